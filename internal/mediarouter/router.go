package mediarouter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config configures the router's ICE/codec surface. Grounded in spec §6's
// "Environment configuration": announced IP, RTC port range, codec list.
type Config struct {
	AnnouncedIP string
	PortMin     uint16
	PortMax     uint16
	ICEServers  []string
	Codecs      []RtpCodecCapability
}

// DefaultCodecs returns the standard audio/opus, video/VP8, VP9, H264 set
// named in spec §6.
func DefaultCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		{Kind: KindVideo, MimeType: "video/VP9", ClockRate: 90000,
			Parameters: map[string]string{"profile-id": "0"}},
		{Kind: KindVideo, MimeType: "video/H264", ClockRate: 90000,
			Parameters: map[string]string{
				"level-asymmetry-allowed": "1",
				"packetization-mode":      "1",
				"profile-level-id":        "42e01f",
			}},
	}
}

// Router is the process-wide MediaRouter adapter: one per process (the
// spec's "single-SFU deployment"). It owns the pion API instance used to
// build every transport and emits cascade events on its Events() channel.
type Router struct {
	cfg          Config
	api          *webrtc.API
	settings     webrtc.SettingEngine
	certificates []webrtc.Certificate
	capabilities RtpCapabilities
	logger       *zap.Logger

	mu         sync.RWMutex
	transports map[uuid.UUID]*Transport

	events chan Event
}

// NewRouter builds the router's pion API (codec registration, ICE port
// range, announced IP) and its certificate used for every DTLS transport.
func NewRouter(cfg Config, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Codecs) == 0 {
		cfg.Codecs = DefaultCodecs()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	settings := webrtc.SettingEngine{}
	if cfg.AnnouncedIP != "" {
		settings.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if cfg.PortMin != 0 && cfg.PortMax != 0 {
		if err := settings.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	cert, err := webrtc.GenerateCertificate(nil)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settings),
	)

	return &Router{
		cfg:          cfg,
		api:          api,
		settings:     settings,
		certificates: []webrtc.Certificate{*cert},
		capabilities: RtpCapabilities{Codecs: cfg.Codecs},
		logger:       logger,
		transports:   make(map[uuid.UUID]*Transport),
		events:       make(chan Event, eventBufferSize),
	}, nil
}

// RtpCapabilities returns the router's advertised codec set. Stable for the
// process lifetime.
func (r *Router) RtpCapabilities() RtpCapabilities {
	return r.capabilities
}

// Events returns the channel of asynchronous transport/producer/consumer
// cascade events. There must be exactly one consumer (the Lifecycle
// Supervisor); reads are not broadcast.
func (r *Router) Events() <-chan Event {
	return r.events
}

// CreateTransport allocates a new send or recv WebRTC transport: an ICE
// gatherer/transport pair plus a DTLS transport layered on top, listening on
// the configured port range with UDP preferred.
func (r *Router) CreateTransport(direction Direction) (*Transport, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(r.cfg.ICEServers))
	for _, url := range r.cfg.ICEServers {
		if url != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
		}
	}

	gatherer, err := r.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}

	iceTransport := r.api.NewICETransport(gatherer)
	dtlsTransport, err := r.api.NewDTLSTransport(iceTransport, r.certificates)
	if err != nil {
		return nil, fmt.Errorf("new dtls transport: %w", err)
	}

	t := &Transport{
		id:            uuid.New(),
		direction:     direction,
		router:        r,
		gatherer:      gatherer,
		ice:           iceTransport,
		dtls:          dtlsTransport,
		producers:     make(map[uuid.UUID]*Producer),
		consumers:     make(map[uuid.UUID]*Consumer),
		createdAt:     time.Now(),
	}
	t.watchDtlsState()

	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gather ice candidates: %w", err)
	}

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()

	return t, nil
}

// getTransport looks up a transport by id; it backs the exported Transport
// lookup.
func (r *Router) getTransport(id uuid.UUID) (*Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[id]
	return t, ok
}

// Transport looks up a live transport by id. Exported for the Signaling
// Protocol Handler, which drives connectTransport/produce/consume against
// the transport a session owns.
func (r *Router) Transport(id uuid.UUID) (*Transport, bool) {
	return r.getTransport(id)
}

// forgetTransport removes a transport from the router's index once closed.
func (r *Router) forgetTransport(id uuid.UUID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// getProducer searches every transport for a producer id. Producers are
// looked up across transports because consume(producerId) only names the
// producer, not its owning transport.
func (r *Router) getProducer(id uuid.UUID) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.transports {
		t.mu.Lock()
		p, ok := t.producers[id]
		t.mu.Unlock()
		if ok {
			return p, true
		}
	}
	return nil, false
}

// Close tears down every live transport and closes the event channel. Used
// at process shutdown.
func (r *Router) Close() {
	r.mu.RLock()
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.RUnlock()
	for _, t := range transports {
		t.Close()
	}
	close(r.events)
}

package mediarouter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Transport is one allocated send or recv WebRTC transport: an ICE
// gatherer/transport pair with a DTLS transport layered on top. It owns
// every producer (send) or consumer (recv) created on it.
type Transport struct {
	id        uuid.UUID
	direction Direction
	router    *Router
	createdAt time.Time

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	connected atomic.Bool
	closed    atomic.Bool

	mu        sync.Mutex
	producers map[uuid.UUID]*Producer
	consumers map[uuid.UUID]*Consumer
}

// ID returns the transport's router-assigned id.
func (t *Transport) ID() uuid.UUID { return t.id }

// Direction returns send or recv.
func (t *Transport) Direction() Direction { return t.direction }

// Connected reports whether ConnectTransport has completed successfully.
func (t *Transport) Connected() bool { return t.connected.Load() }

// Closed reports whether the transport has been torn down.
func (t *Transport) Closed() bool { return t.closed.Load() }

// CreatedAt is used by the Lifecycle Supervisor's unconnected-transport
// reaper to schedule its timeout relative to allocation time.
func (t *Transport) CreatedAt() time.Time { return t.createdAt }

// Options returns the ICE/DTLS parameters a client needs to connect to this
// transport, gathered at creation time.
func (t *Transport) Options() (TransportOptions, error) {
	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return TransportOptions{}, err
	}
	rawCandidates, err := t.gatherer.GetLocalCandidates()
	if err != nil {
		return TransportOptions{}, err
	}
	dtlsParams, err := t.dtls.GetLocalParameters()
	if err != nil {
		return TransportOptions{}, err
	}

	candidates := make([]IceCandidate, 0, len(rawCandidates))
	for _, c := range rawCandidates {
		candidates = append(candidates, IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   string(c.Protocol),
			Port:       c.Port,
			Type:       string(c.Typ),
		})
	}

	fingerprints := make([]DtlsFingerprint, 0, len(dtlsParams.Fingerprints))
	for _, f := range dtlsParams.Fingerprints {
		fingerprints = append(fingerprints, DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}

	return TransportOptions{
		ID: t.id,
		IceParameters: IceParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
		},
		IceCandidates: candidates,
		DtlsParameters: DtlsParameters{
			Role:         DtlsRoleServer,
			Fingerprints: fingerprints,
		},
	}, nil
}

// Connect starts the ICE transport (controlled role, since the client is
// always the offering/controlling side in this model) and the DTLS
// handshake against the client's fingerprint.
func (t *Transport) Connect(remote DtlsParameters) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if t.connected.Load() {
		return ErrTransportAlreadyConnected
	}
	if len(remote.Fingerprints) == 0 {
		return ErrBadDtlsParameters
	}

	iceParams, err := t.gatherer.GetLocalParameters()
	if err != nil {
		return err
	}
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, iceParams, &role); err != nil {
		return err
	}

	fingerprints := make([]webrtc.DTLSFingerprint, 0, len(remote.Fingerprints))
	for _, f := range remote.Fingerprints {
		fingerprints = append(fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	dtlsRole := webrtc.DTLSRole(0)
	if remote.Role == DtlsRoleServer {
		dtlsRole = webrtc.DTLSRoleClient
	}
	_ = dtlsRole // role is negotiated by Start; kept for documentation of intent
	if err := t.dtls.Start(webrtc.DTLSParameters{Fingerprints: fingerprints}); err != nil {
		return err
	}

	t.connected.Store(true)
	return nil
}

// watchDtlsState registers the pion DTLS state callback, translating it into
// a router Event the Lifecycle Supervisor consumes.
func (t *Transport) watchDtlsState() {
	t.dtls.OnStateChange(func(state webrtc.DTLSTransportState) {
		t.router.emit(Event{Type: EventDtlsStateChange, TransportID: t.id, DtlsState: state.String()})
		if state == webrtc.DTLSTransportStateClosed || state == webrtc.DTLSTransportStateFailed {
			t.Close()
		}
	})
}

// Produce creates a producer on this (send) transport. Legal only when
// connected and not closed, per spec I3.
func (t *Transport) Produce(kind MediaKind, rtpParameters RtpParameters, appData AppData) (*Producer, error) {
	if t.direction != DirectionSend {
		return nil, ErrWrongDirection
	}
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if !t.connected.Load() {
		return nil, ErrTransportNotConnected
	}

	codecKind := webrtc.RTPCodecTypeVideo
	if kind == KindAudio {
		codecKind = webrtc.RTPCodecTypeAudio
	}
	receiver, err := t.router.api.NewRTPReceiver(codecKind, t.dtls)
	if err != nil {
		return nil, err
	}
	encodings := make([]webrtc.RTPDecodingParameters, 0, len(rtpParameters.Encodings))
	for _, e := range rtpParameters.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{
			RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(e.SSRC), RID: e.RID},
		})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: encodings}); err != nil {
		return nil, err
	}

	p := &Producer{
		id:            uuid.New(),
		transportID:   t.id,
		kind:          kind,
		rtpParameters: rtpParameters,
		appData:       appData,
		router:        t.router,
		receiver:      receiver,
		consumers:     make(map[uuid.UUID]*Consumer),
	}

	t.mu.Lock()
	t.producers[p.id] = p
	t.mu.Unlock()

	return p, nil
}

// Consume creates a consumer on this (recv) transport for the named
// producer. Legal only when connected, not closed, the producer exists and
// is not closed, and canConsume holds, per spec I3/I4.
func (t *Transport) Consume(producerID uuid.UUID, rtpCapabilities RtpCapabilities) (*Consumer, error) {
	if t.direction != DirectionRecv {
		return nil, ErrWrongDirection
	}
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if !t.connected.Load() {
		return nil, ErrTransportNotConnected
	}

	producer, ok := t.router.getProducer(producerID)
	if !ok {
		return nil, ErrProducerNotFound
	}
	if producer.Closed() {
		return nil, ErrProducerClosed
	}
	if !canConsume(producer.kind, rtpCapabilities) {
		return nil, ErrCannotConsume
	}

	codecKind := webrtc.RTPCodecTypeVideo
	if producer.kind == KindAudio {
		codecKind = webrtc.RTPCodecTypeAudio
	}
	sender, err := t.router.api.NewRTPSender(nil, t.dtls)
	if err != nil {
		return nil, err
	}
	sendParams := webrtc.RTPSendParameters{}
	if err := sender.Send(sendParams); err != nil {
		return nil, err
	}
	_ = codecKind

	c := &Consumer{
		id:            uuid.New(),
		producerID:    producerID,
		transportID:   t.id,
		kind:          producer.kind,
		rtpParameters: producer.rtpParameters,
		sender:        sender,
		router:        t.router,
	}

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()

	producer.addConsumer(c)

	return c, nil
}

// CanConsume reports whether rtpCapabilities are compatible with the named
// producer's codec, without creating anything.
func (t *Transport) CanConsume(producerID uuid.UUID, rtpCapabilities RtpCapabilities) bool {
	producer, ok := t.router.getProducer(producerID)
	if !ok || producer.Closed() {
		return false
	}
	return canConsume(producer.kind, rtpCapabilities)
}

// canConsume is deliberately coarse (kind-level): the router's codec set is
// fixed process-wide (§4.1), so any consumer whose capabilities include the
// producer's kind can receive it.
func canConsume(kind MediaKind, caps RtpCapabilities) bool {
	for _, c := range caps.Codecs {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

// Close tears down the transport: stops ICE/DTLS, removes it from the
// router's index, and closes every producer/consumer it owns. Each closed
// producer/consumer emits its own cascade event so registry cleanup and
// room broadcast happen uniformly whether triggered here or from a pion
// callback.
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}

	t.mu.Lock()
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.Close()
	}
	for _, c := range consumers {
		c.Close()
	}

	_ = t.dtls.Stop()
	_ = t.ice.Stop()
	_ = t.gatherer.Close()

	t.router.forgetTransport(t.id)
	t.router.emit(Event{Type: EventTransportClosed, TransportID: t.id})
}

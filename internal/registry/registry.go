// Package registry implements the Resource Registry (spec §4.2): the
// process-wide tables of transports, producers, and consumers, indexed by
// id and by owning client, with the invariants that every entry has exactly
// one owner and every producer/consumer references exactly one transport.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-sfu/gateway/internal/mediarouter"
)

// MediaSource is the application-level classification of a producer's
// origin, carried in appData.source per the canonical wire schema chosen
// in SPEC_FULL.md.
type MediaSource string

const (
	SourceCamera MediaSource = "camera"
	SourceScreen MediaSource = "screen"
)

// TransportRecord is the registry's view of one transport.
type TransportRecord struct {
	ID        uuid.UUID
	OwnerID   string
	Direction mediarouter.Direction
	Connected bool
	Closed    bool
	CreatedAt time.Time

	media *mediarouter.Transport
}

// ProducerRecord is the registry's view of one producer.
type ProducerRecord struct {
	ID            uuid.UUID
	OwnerID       string
	TransportID   uuid.UUID
	Kind          mediarouter.MediaKind
	Source        MediaSource
	RtpParameters mediarouter.RtpParameters
	AppData       mediarouter.AppData
	Closed        bool

	media *mediarouter.Producer
}

// ConsumerRecord is the registry's view of one consumer.
type ConsumerRecord struct {
	ID            uuid.UUID
	ProducerID    uuid.UUID
	OwnerID       string
	TransportID   uuid.UUID
	Kind          mediarouter.MediaKind
	RtpParameters mediarouter.RtpParameters
	Paused        bool
	Closed        bool
}

// Registry holds every live transport/producer/consumer. A single
// process-wide RWMutex guards all three tables: spec §5 explicitly allows a
// whole-registry lock given the modest entry counts of a single-SFU
// deployment.
type Registry struct {
	mu sync.RWMutex

	transports map[uuid.UUID]*TransportRecord
	producers  map[uuid.UUID]*ProducerRecord
	consumers  map[uuid.UUID]*ConsumerRecord

	// byClient indexes every entity id owned by a client, for closeClient
	// and listClientTransports.
	clientTransports map[string]map[uuid.UUID]struct{}
	clientProducers  map[string]map[uuid.UUID]struct{}
	clientConsumers  map[string]map[uuid.UUID]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		transports:       make(map[uuid.UUID]*TransportRecord),
		producers:        make(map[uuid.UUID]*ProducerRecord),
		consumers:        make(map[uuid.UUID]*ConsumerRecord),
		clientTransports: make(map[string]map[uuid.UUID]struct{}),
		clientProducers:  make(map[string]map[uuid.UUID]struct{}),
		clientConsumers:  make(map[string]map[uuid.UUID]struct{}),
	}
}

// PutTransport records a newly created transport under its owner.
func (r *Registry) PutTransport(ownerID string, media *mediarouter.Transport) *TransportRecord {
	rec := &TransportRecord{
		ID:        media.ID(),
		OwnerID:   ownerID,
		Direction: media.Direction(),
		CreatedAt: media.CreatedAt(),
		media:     media,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[rec.ID] = rec
	indexAdd(r.clientTransports, ownerID, rec.ID)
	return rec
}

// GetTransport returns the transport record for id, if present and live.
func (r *Registry) GetTransport(id uuid.UUID) (*TransportRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.transports[id]
	return rec, ok
}

// MarkTransportConnected flips a transport record to connected, called
// after a successful connectTransport.
func (r *Registry) MarkTransportConnected(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.transports[id]; ok {
		rec.Connected = true
	}
}

// ListClientTransports returns every transport owned by clientID.
func (r *Registry) ListClientTransports(clientID string) []*TransportRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TransportRecord, 0, len(r.clientTransports[clientID]))
	for id := range r.clientTransports[clientID] {
		if rec, ok := r.transports[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// PutProducer records a newly created producer under its owner and
// transport.
func (r *Registry) PutProducer(ownerID string, transportID uuid.UUID, source MediaSource, media *mediarouter.Producer) *ProducerRecord {
	rec := &ProducerRecord{
		ID:            media.ID(),
		OwnerID:       ownerID,
		TransportID:   transportID,
		Kind:          media.Kind(),
		Source:        source,
		RtpParameters: media.RtpParameters(),
		AppData:       media.AppData(),
		media:         media,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[rec.ID] = rec
	indexAdd(r.clientProducers, ownerID, rec.ID)
	return rec
}

// GetProducer returns the producer record for id, if present.
func (r *Registry) GetProducer(id uuid.UUID) (*ProducerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.producers[id]
	return rec, ok
}

// ProducerView is the shape published to peers: spec §4.2 listProducers and
// §6 joinRoom ack / newProducer event.
type ProducerView struct {
	ProducerID uuid.UUID             `json:"producerId"`
	ClientID   string                `json:"clientId"`
	Kind       mediarouter.MediaKind `json:"kind"`
	Source     MediaSource           `json:"source"`
}

// ListProducers returns every non-closed producer whose owner is not
// excludeClientID, the view published to a newly-joined client (spec P4).
// When excludeClientID is empty, every non-closed producer is returned.
func (r *Registry) ListProducers(excludeClientID string) []ProducerView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProducerView, 0, len(r.producers))
	for _, p := range r.producers {
		if p.Closed || p.OwnerID == excludeClientID {
			continue
		}
		out = append(out, ProducerView{ProducerID: p.ID, ClientID: p.OwnerID, Kind: p.Kind, Source: p.Source})
	}
	return out
}

// ListRoomScreenProducers returns every non-closed screen producer among
// the given candidate ids whose owner is not excludeClientID — the atomic
// snapshot the screen-share arbitration algorithm (§4.4) closes over.
func (r *Registry) ListRoomScreenProducers(candidateIDs []uuid.UUID, excludeClientID string) []*ProducerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ProducerRecord, 0)
	for _, id := range candidateIDs {
		p, ok := r.producers[id]
		if !ok || p.Closed || p.Source != SourceScreen || p.OwnerID == excludeClientID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ListOwnedProducers returns every non-closed producer owned by clientID,
// regardless of room. Used by getStats and the REST stats endpoint.
func (r *Registry) ListOwnedProducers(clientID string) []*ProducerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ProducerRecord, 0, len(r.clientProducers[clientID]))
	for id := range r.clientProducers[clientID] {
		if p, ok := r.producers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ListClientProducerIDs returns the producer ids owned by clientID, used by
// callers that need to intersect a room's producer set with a client's own
// (e.g. screen-share arbitration scoped to a room's members).
func (r *Registry) ListClientProducerIDs(clientID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(r.clientProducers[clientID]))
	for id := range r.clientProducers[clientID] {
		out = append(out, id)
	}
	return out
}

// PutConsumer records a newly created consumer under its owner and
// transport.
func (r *Registry) PutConsumer(ownerID string, transportID uuid.UUID, media *mediarouter.Consumer) *ConsumerRecord {
	rec := &ConsumerRecord{
		ID:            media.ID(),
		ProducerID:    media.ProducerID(),
		OwnerID:       ownerID,
		TransportID:   transportID,
		Kind:          media.Kind(),
		RtpParameters: media.RtpParameters(),
		Paused:        media.Paused(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consumers[rec.ID] = rec
	indexAdd(r.clientConsumers, ownerID, rec.ID)
	return rec
}

// GetConsumer returns the consumer record for id, if present.
func (r *Registry) GetConsumer(id uuid.UUID) (*ConsumerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.consumers[id]
	return rec, ok
}

// ListOwnedConsumers returns every non-closed consumer owned by clientID,
// regardless of room. Mirrors ListOwnedProducers; used by getStats.
func (r *Registry) ListOwnedConsumers(clientID string) []*ConsumerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ConsumerRecord, 0, len(r.clientConsumers[clientID]))
	for id := range r.clientConsumers[clientID] {
		if c, ok := r.consumers[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// CloseProducerCascade closes the underlying MediaRouter producer (which
// cascades to its consumers and emits EventProducerClosed) and synchronously
// marks the registry record closed, so a caller — namely closeAllScreenShares
// arbitration (spec §5) — observes the effect immediately rather than
// waiting on the Lifecycle Supervisor's async event consumption.
func (r *Registry) CloseProducerCascade(id uuid.UUID) {
	r.mu.RLock()
	rec, ok := r.producers[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rec.media.Close()
	r.CloseProducer(id)
}

// CloseTransport marks a transport closed and removes it from the client
// index. It does not explicitly close dependent producers/consumers; those
// close via the mediarouter cascade events the Lifecycle Supervisor
// consumes (spec §4.2 algorithm). Idempotent.
func (r *Registry) CloseTransport(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.transports[id]
	if !ok || rec.Closed {
		return
	}
	rec.Closed = true
	indexRemove(r.clientTransports, rec.OwnerID, id)
	delete(r.transports, id)
}

// CloseProducer marks a producer closed and removes it from the client
// index. Idempotent.
func (r *Registry) CloseProducer(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.producers[id]
	if !ok || rec.Closed {
		return
	}
	rec.Closed = true
	indexRemove(r.clientProducers, rec.OwnerID, id)
	delete(r.producers, id)
}

// CloseConsumer marks a consumer closed and removes it from the client
// index. Idempotent.
func (r *Registry) CloseConsumer(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.consumers[id]
	if !ok || rec.Closed {
		return
	}
	rec.Closed = true
	indexRemove(r.clientConsumers, rec.OwnerID, id)
	delete(r.consumers, id)
}

// CloseClient closes every resource owned by clientID: transports first
// (which, via mediarouter cascade, close owned producers/consumers), then
// any producer or consumer that is somehow still present (e.g. never
// attached to a transport owned by this client because it raced a cascade).
// Safe to call more than once and safe under concurrent cascade events,
// per spec §4.2.
func (r *Registry) CloseClient(clientID string) {
	for _, t := range r.ListClientTransports(clientID) {
		r.CloseTransport(t.ID)
		t.media.Close()
	}

	r.mu.RLock()
	producerIDs := make([]uuid.UUID, 0, len(r.clientProducers[clientID]))
	for id := range r.clientProducers[clientID] {
		producerIDs = append(producerIDs, id)
	}
	r.mu.RUnlock()
	for _, id := range producerIDs {
		r.CloseProducer(id)
	}

	r.mu.RLock()
	consumerIDs := make([]uuid.UUID, 0, len(r.clientConsumers[clientID]))
	for id := range r.clientConsumers[clientID] {
		consumerIDs = append(consumerIDs, id)
	}
	r.mu.RUnlock()
	for _, id := range consumerIDs {
		r.CloseConsumer(id)
	}
}

func indexAdd(index map[string]map[uuid.UUID]struct{}, clientID string, id uuid.UUID) {
	set, ok := index[clientID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		index[clientID] = set
	}
	set[id] = struct{}{}
}

func indexRemove(index map[string]map[uuid.UUID]struct{}, clientID string, id uuid.UUID) {
	set, ok := index[clientID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, clientID)
	}
}

package mediarouter

import "errors"

var (
	ErrTransportClosed        = errors.New("mediarouter: transport closed")
	ErrTransportAlreadyConnected = errors.New("mediarouter: transport already connected")
	ErrTransportNotConnected   = errors.New("mediarouter: transport not connected")
	ErrBadDtlsParameters       = errors.New("mediarouter: bad dtls parameters")
	ErrWrongDirection          = errors.New("mediarouter: wrong transport direction")
	ErrProducerClosed          = errors.New("mediarouter: producer closed")
	ErrProducerNotFound        = errors.New("mediarouter: producer not found")
	ErrCannotConsume           = errors.New("mediarouter: cannot consume, incompatible rtp capabilities")
)

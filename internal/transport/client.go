package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-sfu/gateway/internal/session"
	"github.com/aura-sfu/gateway/internal/signaling"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	readLimit    = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one signaling connection: a session state machine paired with a
// WebSocket and its read/write pump goroutines.
type Client struct {
	conn    *websocket.Conn
	send    chan Envelope
	session *session.Session
	handler *signaling.Handler
	// disconnect runs the full disconnect cascade (spec §4.5.1) when the
	// connection closes; readPump calls it only if the session has a
	// clientId, i.e. after joinRoom succeeded.
	disconnect func(clientID string)
	logger     *zap.Logger
}

// ServeWS upgrades the request and runs the client's read/write pumps. The
// handler is shared process-wide; disconnect is the Lifecycle Supervisor's
// DisconnectClient method.
func ServeWS(handler *signaling.Handler, disconnect func(clientID string), logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("transport: websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			conn:       conn,
			send:       make(chan Envelope, 256),
			session:    session.New(uuid.New()),
			handler:    handler,
			disconnect: disconnect,
			logger:     logger,
		}

		go client.writePump()
		client.readPump()
	}
}

// Emit implements room.Emitter: queues a server-pushed event onto this
// connection's write pump. Never blocks — a full send buffer means the peer
// is not draining fast enough, and the event is dropped and logged here.
// Emit returns normally in that case, so the room registry counts the
// delivery as delivered, not dropped.
func (c *Client) Emit(eventName string, payload interface{}) {
	select {
	case c.send <- event(eventName, payload):
	default:
		c.logger.Warn("transport: send buffer full, dropping event", zap.String("event", eventName))
	}
}

func (c *Client) readPump() {
	defer func() {
		snap := c.session.Snapshot()
		c.session.Close()
		if snap.ClientID != "" && c.disconnect != nil {
			c.disconnect(snap.ClientID)
		}
		close(c.send)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var in Envelope
		if err := c.conn.ReadJSON(&in); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one request envelope's data by verb and drives the
// Signaling Protocol Handler, replying with an ack or an {error} envelope
// (spec §7: every per-request failure is reported in the ack, the
// connection is never dropped for a bad request).
func (c *Client) dispatch(in Envelope) {
	switch in.Verb {
	case signaling.VerbGetRtpCapabilities:
		c.send <- ack(in.RequestID, c.handler.GetRtpCapabilities())

	case signaling.VerbJoinRoom:
		var req signaling.JoinRoomRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		res, err := c.handler.JoinRoom(c.session, c, req)
		if err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		c.send <- ack(in.RequestID, res)

	case signaling.VerbCreateTransport:
		var req signaling.CreateTransportRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		res, err := c.handler.CreateTransport(c.session, req)
		if err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		c.send <- ack(in.RequestID, res)

	case signaling.VerbConnectTransport:
		var req signaling.ConnectTransportRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		if err := c.handler.ConnectTransport(c.session, req); err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		c.send <- ack(in.RequestID, struct{}{})

	case signaling.VerbProduce:
		var req signaling.ProduceRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		res, err := c.handler.Produce(c.session, req)
		if err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		c.send <- ack(in.RequestID, res)

	case signaling.VerbConsume:
		var req signaling.ConsumeRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		res, err := c.handler.Consume(c.session, req)
		if err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		c.send <- ack(in.RequestID, res)

	case signaling.VerbCloseAllScreenShares:
		var req signaling.CloseAllScreenSharesRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		res, err := c.handler.CloseAllScreenShares(c.session, req)
		if err != nil {
			c.send <- ackError(in.RequestID, err)
			return
		}
		c.send <- ack(in.RequestID, res)

	case signaling.VerbGetStats:
		c.send <- ack(in.RequestID, c.handler.GetStats(c.session))

	default:
		c.send <- ackError(in.RequestID, errUnknownVerb(in.Verb))
	}
}

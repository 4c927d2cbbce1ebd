package wsfeed

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 32
)

// upgrader performs the HTTP to websocket protocol upgrade. CheckOrigin
// always returns true — origin policy belongs to whatever reverse proxy
// sits in front of the coordinator's observer feed listener.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// observer is a single dashboard watching one job's interval stream. It
// runs two goroutines: readPump (detects disconnection, handles pong
// frames) and writePump (serialises outgoing IntervalUpdates onto the
// wire). The protocol is server-push only — observers never send
// application frames, only pongs.
type observer struct {
	hub  *Hub
	conn *websocket.Conn

	send chan IntervalUpdate

	// jobID is fixed at connection time — an observer watches exactly one
	// job's interval stream for the life of the connection (spec.md
	// §4.5.3's real-time reporter is itself per-job).
	jobID string

	logger *zap.Logger
}

// newObserver upgrades r to a websocket connection and returns an observer
// of jobID's interval stream.
func newObserver(hub *Hub, w http.ResponseWriter, r *http.Request, jobID string, logger *zap.Logger) (*observer, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &observer{
		hub:    hub,
		conn:   conn,
		send:   make(chan IntervalUpdate, sendBufferSize),
		jobID:  jobID,
		logger: logger.With(zap.String("remote_addr", r.RemoteAddr), zap.String("job_id", jobID)),
	}, nil
}

// run subscribes the observer to its hub and blocks until the connection
// closes. Call from the HTTP handler after newObserver succeeds.
func (o *observer) run() {
	o.hub.subscribe(o)

	go o.writePump()
	o.readPump()
}

func (o *observer) readPump() {
	defer func() {
		o.hub.unsubscribe(o)
		o.conn.Close()
	}()

	o.conn.SetReadLimit(maxMessageSize)
	if err := o.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		o.logger.Warn("wsfeed: failed to set read deadline", zap.Error(err))
		return
	}
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				o.logger.Warn("wsfeed: unexpected close", zap.Error(err))
			}
			return
		}
	}
}

func (o *observer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.conn.Close()
	}()

	for {
		select {
		case update, ok := <-o.send:
			if err := o.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				o.logger.Warn("wsfeed: failed to set write deadline", zap.Error(err))
				return
			}
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteJSON(update); err != nil {
				o.logger.Warn("wsfeed: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := o.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				o.logger.Warn("wsfeed: failed to set write deadline", zap.Error(err))
				return
			}
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.logger.Warn("wsfeed: ping error", zap.Error(err))
				return
			}
		}
	}
}

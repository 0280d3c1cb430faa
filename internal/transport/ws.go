package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/riverstone/socketgate/internal/wire"
)

// WSConfig configures the gorilla/websocket adapter. PingInterval and
// PingTimeout drive the keepalive loop; the core only ever consumes their
// values (via HandshakeAck.PingTimeout), never the loop itself.
type WSConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	PingInterval      time.Duration
	PingTimeout       time.Duration
	PerMessageDeflate bool

	// HandleProtocols picks the subprotocol to accept for an upgrade
	// request. Nil (or an empty return) negotiates none.
	HandleProtocols func(r *http.Request) string
}

// WSUpgrader is the default Upgrader, backed by gorilla/websocket. The
// server is responsible for the origin check and the handshake-stage
// gates; by the time Upgrade is called the request has already been
// accepted, so CheckOrigin always returns true here.
type WSUpgrader struct {
	cfg      WSConfig
	upgrader websocket.Upgrader
}

// NewWSUpgrader builds an Upgrader from cfg, filling in defaults for zero
// fields.
func NewWSUpgrader(cfg WSConfig) *WSUpgrader {
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 4096
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 8 * time.Second
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 20 * time.Second
	}
	return &WSUpgrader{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: cfg.PerMessageDeflate,
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
	}
}

var _ Upgrader = (*WSUpgrader)(nil)

// Upgrade performs the HTTP->WebSocket upgrade and starts the keepalive
// loop.
func (u *WSUpgrader) Upgrade(w http.ResponseWriter, r *http.Request) (Conn, error) {
	var respHeader http.Header
	if u.cfg.HandleProtocols != nil {
		if proto := u.cfg.HandleProtocols(r); proto != "" {
			respHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
	}

	raw, err := u.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		return nil, err
	}

	conn := &wsConn{
		req:         r,
		ws:          raw,
		pingTimeout: u.cfg.PingTimeout,
		closed:      make(chan struct{}),
	}
	raw.SetReadDeadline(time.Now().Add(u.cfg.PingTimeout))
	raw.SetPongHandler(func(string) error {
		raw.SetReadDeadline(time.Now().Add(u.cfg.PingTimeout))
		return nil
	})

	go conn.keepalive(u.cfg.PingInterval)

	return conn, nil
}

type wsConn struct {
	req         *http.Request
	ws          *websocket.Conn
	pingTimeout time.Duration

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  chan struct{}
}

var _ Conn = (*wsConn)(nil)

func (c *wsConn) Request() *http.Request { return c.req }

func (c *wsConn) ReadMessage() (wire.Request, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return wire.Request{}, ErrClosed
		default:
		}
		return wire.Request{}, wrapReadErr(err)
	}
	var req wire.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return wire.Request{}, err
	}
	return req, nil
}

func (c *wsConn) SendObject(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	select {
	case <-c.closed:
		return nil
	default:
		close(c.closed)
	}
	return c.ws.Close()
}

func (c *wsConn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pingTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func wrapReadErr(err error) error {
	if websocket.IsUnexpectedCloseError(err) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ErrClosed
	}
	return err
}

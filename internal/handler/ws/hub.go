// Package ws keeps the live channel to connected pages. Pages send the same
// commands the HTTP API accepts and receive notifications and relayed
// events.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alarm-service/internal/middleware"
	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/logger"
)

const (
	sendBuffer   = 32
	readLimit    = 1 << 20
	writeTimeout = 10 * time.Second
)

// CommandHandler executes a command received from a page.
type CommandHandler interface {
	HandleMessage(ctx context.Context, msg model.Message) error
}

type client struct {
	conn     *websocket.Conn
	deviceID string
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans messages out to every connected page.
type Hub struct {
	commands       CommandHandler
	logger         *logger.Logger
	originPatterns []string

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub builds a hub. originPatterns are passed to the websocket
// handshake; empty means same-origin only.
func NewHub(commands CommandHandler, log *logger.Logger, originPatterns ...string) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		commands:       commands,
		logger:         log,
		originPatterns: originPatterns,
		clients:        make(map[*client]struct{}),
	}
}

func (h *Hub) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.ServeWS)
}

// Len returns the number of connected pages.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Name() string {
	return "websocket"
}

// Present sends a rendered notification to every page.
func (h *Hub) Present(ctx context.Context, n model.Notification) error {
	msg, err := model.NewMessage(model.MessageNotification, n)
	if err != nil {
		return err
	}
	return h.Relay(ctx, msg)
}

// Relay sends msg to every page. Pages that cannot keep up are dropped.
func (h *Hub) Relay(_ context.Context, msg model.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		h.logger.Debug("No pages connected", "type", string(msg.Type))
		return nil
	}
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			h.logger.Warn("Dropping slow page", "device_id", c.deviceID)
			c.close()
		}
	}
	return nil
}

// ServeWS upgrades the request and serves the connection until the page
// goes away.
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}
	conn.SetReadLimit(readLimit)

	cl := &client{
		conn:     conn,
		deviceID: c.GetString(middleware.ContextDeviceID),
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h.add(cl)
	defer h.remove(cl)

	go h.writeLoop(ctx, cl, cancel)
	h.readLoop(ctx, cl)

	conn.Close(websocket.StatusNormalClosure, "")
}

// Close disconnects every page.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, c)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("Page connected", "device_id", c.deviceID)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	h.logger.Info("Page disconnected", "device_id", c.deviceID)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, "malformed message")
			continue
		}
		if err := h.commands.HandleMessage(ctx, msg); err != nil {
			h.logger.Warn("Command failed",
				"device_id", c.deviceID,
				"type", string(msg.Type),
				"error", err.Error())
			h.reply(c, err.Error())
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *client, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			c.conn.Close(websocket.StatusPolicyViolation, "too slow")
			return
		case raw := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, raw)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

// reply sends an ERROR message to a single page.
func (h *Hub) reply(c *client, message string) {
	msg, err := model.NewMessage(model.MessageError, model.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

// Package live relays ephemeral telemetry between connected websocket
// clients. It carries no booking state.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// Metrics receives hub events.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	MessageRelayed(kind string, recipients int)
	MessageDropped(reason string)
}

type Options struct {
	// PingInterval is the keep-alive period. Defaults to 30s.
	PingInterval time.Duration
	// PingTimeout bounds one probe. Defaults to PingInterval.
	PingTimeout time.Duration
	// SendBuffer is the per-client outbound queue length. A client whose
	// queue is full misses messages rather than stalling the others.
	SendBuffer int
	// ReadLimit caps inbound message size in bytes.
	ReadLimit      int64
	OriginPatterns []string
	Logger         *zap.Logger
	Metrics        Metrics
	Now            func() time.Time
}

// Hub owns the set of live connections.
type Hub struct {
	opts    Options
	logger  *zap.Logger
	metrics Metrics
	now     func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed sync.Once
}

func (c *client) close() {
	c.closed.Do(func() {
		close(c.done)
		c.conn.CloseNow()
	})
}

func NewHub(opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = opts.PingInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 32 << 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		clients: make(map[*client]struct{}),
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.opts.OriginPatterns})
	if err != nil {
		h.logger.Warn("failed to accept websocket connection", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(h.opts.ReadLimit)

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	log := h.logger.With(zap.String("client_id", c.id), zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	welcome, err := json.Marshal(Outbound{Kind: KindConnection, Message: welcomeMessage, Timestamp: h.now().UTC()})
	if err != nil {
		log.Error("failed to encode welcome", zap.Error(err))
		conn.CloseNow()
		return
	}
	// Queued before registration so the welcome is the first frame.
	c.send <- welcome

	go h.writeLoop(ctx, c, log)
	h.add(c)
	log.Info("live client connected", zap.Int("clients", h.Count()))

	defer func() {
		h.remove(c)
		log.Info("live client disconnected", zap.Int("clients", h.Count()))
	}()

	h.readLoop(ctx, c, log)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.ClientConnected()
	}
}

// remove drops c from the fan-out set and closes it. Safe to call twice.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
	if present && h.metrics != nil {
		h.metrics.ClientDisconnected()
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client, log *zap.Logger) {
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 10)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					log.Debug("live client read ended", zap.Error(err))
				}
			}
			return
		}
		h.handle(c, data, log)
	}
}

func (h *Hub) handle(from *client, data []byte, log *zap.Logger) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		log.Warn("dropping malformed message", zap.Error(err))
		h.dropped("malformed")
		return
	}

	switch in.Kind {
	case KindSpeed:
		n := h.broadcast(from, Outbound{Kind: KindSpeed, Payload: in.Payload, Timestamp: h.now().UTC()}, log)
		if h.metrics != nil {
			h.metrics.MessageRelayed(in.Kind, n)
		}
	default:
		log.Info("dropping message of unknown kind", zap.String("kind", in.Kind))
		h.dropped("unknown_kind")
	}
}

// broadcast queues msg for every client except from and returns how many
// clients it was queued for.
func (h *Hub) broadcast(from *client, msg Outbound, log *zap.Logger) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("failed to encode message", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- data:
			n++
		case <-c.done:
		default:
			log.Warn("live client send queue full, message dropped", zap.String("peer_id", c.id))
			h.dropped("slow_client")
		}
	}
	return n
}

func (h *Hub) writeLoop(ctx context.Context, c *client, log *zap.Logger) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug("live client write failed", zap.Error(err))
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) dropped(reason string) {
	if h.metrics != nil {
		h.metrics.MessageDropped(reason)
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// Run pings every client each PingInterval and prunes those that fail to
// answer. When ctx is done it closes all clients and returns.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return nil
		case <-ticker.C:
			h.pingAll(ctx)
		}
	}
}

func (h *Hub) pingAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range h.snapshot() {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
			defer cancel()
			if err := c.conn.Ping(pctx); err != nil {
				h.logger.Info("pruning unresponsive live client", zap.String("client_id", c.id), zap.Error(err))
				h.remove(c)
			}
		}(c)
	}
	wg.Wait()
}

// Shutdown closes every connection with a going-away status.
func (h *Hub) Shutdown() {
	var wg sync.WaitGroup
	for _, c := range h.snapshot() {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			h.remove(c)
		}(c)
	}
	wg.Wait()
}

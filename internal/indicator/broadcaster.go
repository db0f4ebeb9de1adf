package indicator

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Message states sent to subscribers.
const (
	StateIdle     = "idle"
	StateStarted  = "start"
	StateProgress = "progress"
	StateDone     = "done"
)

const writeWait = 5 * time.Second

// Message is the JSON frame pushed to WebSocket subscribers.
type Message struct {
	State    string  `json:"state"`
	Fraction float64 `json:"fraction"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Broadcaster pushes progress to WebSocket clients. Set updates are throttled
// and the latest throttled value is sent once the limiter allows it; start and
// done frames always go out.
type Broadcaster struct {
	logger   *zap.Logger
	throttle *rate.Limiter

	// sendMu keeps frames in the order their states were set.
	sendMu      sync.Mutex
	trailing    *time.Timer
	trailingGen uint64

	mu      sync.RWMutex
	opts    Options
	current Message
	clients map[*websocket.Conn]*subscriber
}

// NewBroadcaster limits progress frames to one per interval (zero disables throttling).
func NewBroadcaster(logger *zap.Logger, interval time.Duration) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Broadcaster{
		logger:   logger,
		throttle: rate.NewLimiter(limit, 1),
		opts:     DefaultOptions(),
		current:  Message{State: StateIdle},
		clients:  make(map[*websocket.Conn]*subscriber),
	}
}

// Configure implements Indicator.
func (b *Broadcaster) Configure(opts Options) {
	b.mu.Lock()
	b.opts = opts
	b.mu.Unlock()
}

// Start implements Indicator.
func (b *Broadcaster) Start() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	b.stopTrailing()
	b.mu.Lock()
	b.current = Message{State: StateStarted, Fraction: clamp(b.opts.Minimum, 0, 1)}
	msg := b.current
	b.mu.Unlock()
	b.broadcast(msg)
}

// Set implements Indicator.
func (b *Broadcaster) Set(fraction float64) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	b.mu.Lock()
	b.current = Message{State: StateProgress, Fraction: clamp(fraction, b.opts.Minimum, 1)}
	msg := b.current
	b.mu.Unlock()
	if b.trailing != nil {
		return
	}
	if b.throttle.Allow() {
		b.broadcast(msg)
		return
	}
	b.trailingGen++
	gen := b.trailingGen
	b.trailing = time.AfterFunc(b.throttle.Reserve().Delay(), func() { b.flushTrailing(gen) })
}

// Done implements Indicator.
func (b *Broadcaster) Done() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	b.stopTrailing()
	b.mu.Lock()
	b.current = Message{State: StateDone, Fraction: 1}
	msg := b.current
	b.mu.Unlock()
	b.broadcast(msg)
}

// flushTrailing sends the newest progress frame held back by the throttle.
func (b *Broadcaster) flushTrailing(gen uint64) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if b.trailing == nil || gen != b.trailingGen {
		return
	}
	b.trailing = nil
	msg := b.Current()
	if msg.State != StateProgress {
		return
	}
	b.broadcast(msg)
}

// stopTrailing drops a pending progress frame. Callers hold sendMu.
func (b *Broadcaster) stopTrailing() {
	if b.trailing != nil {
		b.trailing.Stop()
		b.trailing = nil
	}
}

// Current returns the last state set on the broadcaster.
func (b *Broadcaster) Current() Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Clients returns the number of connected subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request, sends the current state and keeps the
// connection registered until the client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := &subscriber{conn: conn}

	b.mu.Lock()
	b.clients[conn] = sub
	snapshot := b.current
	count := len(b.clients)
	b.mu.Unlock()
	b.logger.Debug("progress subscriber connected", zap.Int("clients", count))

	defer func() {
		b.mu.Lock()
		delete(b.clients, conn)
		count := len(b.clients)
		b.mu.Unlock()
		_ = conn.Close()
		b.logger.Debug("progress subscriber disconnected", zap.Int("clients", count))
	}()

	if err := b.send(sub, snapshot); err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn("progress subscriber read failed", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) broadcast(msg Message) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.clients))
	for _, sub := range b.clients {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.send(sub, msg); err != nil {
			b.logger.Debug("progress frame not delivered", zap.Error(err))
		}
	}
}

func (b *Broadcaster) send(sub *subscriber, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if err := sub.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return sub.conn.WriteMessage(websocket.TextMessage, data)
}

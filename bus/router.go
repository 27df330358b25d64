// Package bus implements the process-wide message router. It is the only
// cross-agent channel: agents address each other by id and never hold direct
// references.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/internal/metrics"
	"github.com/KolosalAI/kolosal-agent/types"
)

// Handler is an agent's inbox callback. Handlers run on the router's
// dispatcher goroutine and must not block on expensive work.
type Handler func(msg types.AgentMessage)

// DefaultDrainTimeout bounds the queue drain performed by Stop.
const DefaultDrainTimeout = 5 * time.Second

// Config tunes a Router.
type Config struct {
	// MaxQueueDepth caps the inbound queue; 0 means unbounded, matching the
	// historical semantics.
	MaxQueueDepth int `yaml:"max_queue_depth" json:"max_queue_depth"`
	// DrainTimeout bounds the best-effort drain during Stop.
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// Router owns a single FIFO queue of messages and one dispatcher goroutine.
// Senders return as soon as the message is enqueued; delivery is best-effort
// and at-most-once.
type Router struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []types.AgentMessage
	handlers map[string]Handler
	running  bool
	stopping bool

	cfg       Config
	logger    *zap.Logger
	collector *metrics.Collector

	wg sync.WaitGroup
}

// NewRouter creates a stopped router.
func NewRouter(cfg Config, logger *zap.Logger, collector *metrics.Collector) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	r := &Router{
		handlers:  make(map[string]Handler),
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "router")),
		collector: collector,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the dispatcher goroutine. Idempotent with a warn.
func (r *Router) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("router already started")
		return
	}
	r.running = true
	r.stopping = false
	r.mu.Unlock()

	r.wg.Add(1)
	go r.dispatch()
	r.logger.Info("router started")
}

// Stop requests shutdown, drains the queue best-effort within the drain
// timeout, and joins the dispatcher.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	r.cond.Broadcast()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.DrainTimeout):
		r.logger.Warn("router drain timeout, abandoning dispatcher",
			zap.Duration("timeout", r.cfg.DrainTimeout))
	}

	r.mu.Lock()
	r.running = false
	dropped := len(r.queue)
	r.queue = nil
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn("router stopped with undelivered messages", zap.Int("count", dropped))
	}
	r.collector.SetRouterQueueDepth(0)
	r.logger.Info("router stopped")
}

// Register installs the inbox handler for an agent. Re-registration replaces
// the previous handler with a warn.
func (r *Router) Register(agentID string, handler Handler) {
	r.mu.Lock()
	_, replaced := r.handlers[agentID]
	r.handlers[agentID] = handler
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("handler replaced", zap.String("agent_id", agentID))
	}
}

// Unregister removes an agent's handler. Messages already queued for the
// agent are dropped at dispatch time.
func (r *Router) Unregister(agentID string) {
	r.mu.Lock()
	delete(r.handlers, agentID)
	r.mu.Unlock()
}

// Registered reports whether an agent currently has a handler.
func (r *Router) Registered(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[agentID]
	return ok
}

// Route enqueues a message for direct delivery. The sender never blocks; a
// full queue (when bounded) is reported as an error.
func (r *Router) Route(msg types.AgentMessage) error {
	return r.enqueue(msg)
}

// Broadcast enqueues a fanout message. Expansion to individual deliveries
// happens at dispatch time, so it observes the membership at that moment.
func (r *Router) Broadcast(msg types.AgentMessage) error {
	msg.To = types.Broadcast
	return r.enqueue(msg)
}

// QueueDepth returns the number of undispatched messages.
func (r *Router) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Router) enqueue(msg types.AgentMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return types.NewError(types.ErrState, "router is not running").WithComponent("router")
	}
	if r.cfg.MaxQueueDepth > 0 && len(r.queue) >= r.cfg.MaxQueueDepth {
		r.mu.Unlock()
		return types.NewError(types.ErrQueueFull, "router queue is full").WithComponent("router")
	}
	r.queue = append(r.queue, msg)
	depth := len(r.queue)
	r.cond.Signal()
	r.mu.Unlock()

	r.collector.SetRouterQueueDepth(depth)
	return nil
}

// dispatch is the single dispatcher loop. Handler invocation happens without
// holding the router lock: the handler references are copied out first.
func (r *Router) dispatch() {
	defer r.wg.Done()

	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.stopping {
			r.cond.Wait()
		}
		if len(r.queue) == 0 && r.stopping {
			r.mu.Unlock()
			return
		}
		msg := r.queue[0]
		r.queue = r.queue[1:]
		depth := len(r.queue)

		var targets []Handler
		var missing []string
		if msg.IsBroadcast() {
			for id, h := range r.handlers {
				if id == msg.From {
					continue
				}
				targets = append(targets, h)
			}
		} else if h, ok := r.handlers[msg.To]; ok {
			targets = append(targets, h)
		} else {
			missing = append(missing, msg.To)
		}
		r.mu.Unlock()

		r.collector.SetRouterQueueDepth(depth)

		for _, id := range missing {
			r.collector.RecordMessageDropped()
			r.logger.Warn("message dropped, no handler registered",
				zap.String("agent_id", id),
				zap.String("message_id", msg.ID),
				zap.String("from", msg.From),
				zap.String("type", msg.Type),
			)
		}

		for _, h := range targets {
			r.invoke(h, msg)
		}
	}
}

func (r *Router) invoke(h Handler, msg types.AgentMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("inbox handler panicked",
				zap.Any("panic", rec),
				zap.String("message_id", msg.ID),
				zap.String("to", msg.To),
			)
		}
	}()
	h(msg)
	r.collector.RecordMessageDelivered()
}

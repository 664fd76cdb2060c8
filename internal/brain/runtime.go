// Package brain implements the Brain Runtime: a bounded inbox queue drained
// by a single worker, turning chat prompts and out-of-band events into
// tool calls and model-driven responses recorded in the Session Journal.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/methings/brainctl/internal/audit"
	"github.com/methings/brainctl/internal/dispatcher"
	"github.com/methings/brainctl/internal/journal"
	"github.com/methings/brainctl/internal/metrics"
	"github.com/methings/brainctl/internal/models"
	"github.com/methings/brainctl/internal/storage"
)

// inboxCapacity is the bounded inbox queue size; the control plane requires
// at least 128 slots so a burst of events never blocks a caller.
const inboxCapacity = 256

// State reports the worker's current run state, used by the status/health
// HTTP endpoints.
type State struct {
	Busy            bool
	LastError       string
	LastProcessedAt time.Time
	QueueDepth      int
}

// Runtime owns the inbox queue and the single worker goroutine draining it.
type Runtime struct {
	store      storage.Adapter
	journal    *journal.Journal
	dispatcher *dispatcher.Dispatcher
	audit      *audit.Logger
	metrics    *metrics.Registry
	logger     *slog.Logger

	inbox   chan models.InboxItem
	started bool

	mu    sync.Mutex
	state State
}

// New constructs a Runtime. Call MaybeAutostart or Start to begin draining
// the inbox.
func New(store storage.Adapter, j *journal.Journal, d *dispatcher.Dispatcher, al *audit.Logger, m *metrics.Registry, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		store:      store,
		journal:    j,
		dispatcher: d,
		audit:      al,
		metrics:    m,
		logger:     logger,
		inbox:      make(chan models.InboxItem, inboxCapacity),
	}
}

// EnqueueChat adds a chat prompt to the inbox. Returns an error if the
// inbox is full rather than blocking the caller. meta is optional and, when
// present, carries actor/debug tags (meta["actor"]) propagated onto the
// journal append and the Tool-Loop Protocol's actor tagging.
func (r *Runtime) EnqueueChat(sessionID, text string, meta ...map[string]any) (*models.InboxItem, error) {
	var m map[string]any
	if len(meta) > 0 {
		m = meta[0]
	}
	item := models.InboxItem{
		ID:        uuid.NewString(),
		Kind:      models.ItemChat,
		Text:      text,
		SessionID: sessionID,
		Meta:      m,
		CreatedAt: time.Now(),
	}
	return r.enqueue(item)
}

// EnqueueEvent adds an out-of-band event to the inbox.
func (r *Runtime) EnqueueEvent(name string, payload map[string]any) (*models.InboxItem, error) {
	item := models.InboxItem{
		ID:        uuid.NewString(),
		Kind:      models.ItemEvent,
		Name:      name,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	return r.enqueue(item)
}

func (r *Runtime) enqueue(item models.InboxItem) (*models.InboxItem, error) {
	select {
	case r.inbox <- item:
		if r.metrics != nil {
			r.metrics.InboxDepth.Set(float64(len(r.inbox)))
		}
		return &item, nil
	default:
		return nil, fmt.Errorf("brain: inbox full (%d items)", inboxCapacity)
	}
}

// MaybeAutostart starts the worker if cfg enables the runtime and
// auto-start, and it has not already been started.
func (r *Runtime) MaybeAutostart(ctx context.Context, cfg models.RuntimeConfig) {
	r.mu.Lock()
	already := r.started
	r.mu.Unlock()
	if already || !cfg.Enabled || !cfg.AutoStart {
		return
	}
	r.Start(ctx, cfg)
}

// Start launches the single worker goroutine. Calling it more than once is
// a no-op.
func (r *Runtime) Start(ctx context.Context, cfg models.RuntimeConfig) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.workerLoop(ctx, cfg)
}

// State returns a snapshot of the worker's current status.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.QueueDepth = len(r.inbox)
	return s
}

func (r *Runtime) workerLoop(ctx context.Context, cfg models.RuntimeConfig) {
	idle := time.Duration(cfg.IdleSleepMS) * time.Millisecond
	if idle <= 0 {
		idle = 800 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-r.inbox:
			r.setBusy(true)
			r.process(ctx, cfg, item)
			r.setBusy(false)
		case <-time.After(idle):
			// idle tick: nothing to process, loop back and wait again
		}
	}
}

func (r *Runtime) setBusy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Busy = busy
	if !busy {
		r.state.LastProcessedAt = time.Now()
	}
}

func (r *Runtime) process(ctx context.Context, cfg models.RuntimeConfig, item models.InboxItem) {
	var err error
	switch item.Kind {
	case models.ItemChat:
		err = r.processChat(ctx, cfg, item)
	case models.ItemEvent:
		err = r.processEvent(ctx, cfg, item)
	}
	if err != nil {
		r.mu.Lock()
		r.state.LastError = err.Error()
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.BrainWorkerErrors.Inc()
		}
		if r.audit != nil {
			r.audit.Record(audit.EventBrainItemFailed, item.SessionID, "", map[string]any{"item_id": item.ID, "kind": item.Kind}, err)
		}
		r.logger.Error("brain item failed", "item_id", item.ID, "kind", item.Kind, "error", err)
	}
}

func (r *Runtime) processEvent(ctx context.Context, cfg models.RuntimeConfig, item models.InboxItem) error {
	if r.audit != nil {
		r.audit.Record(audit.EventBrainAction, item.SessionID, "", map[string]any{"event": item.Name, "payload": item.Payload}, nil)
	}
	_, err := r.journal.Append(ctx, "events", models.RoleSystem, fmt.Sprintf("event: %s", item.Name), item.Payload)
	return err
}

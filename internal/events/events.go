package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"daily-reward-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventRewardGranted is emitted when a credit is confirmed at attempt time.
	EventRewardGranted EventType = "reward.granted"
	// EventRewardPending is emitted when a credit outcome is deferred to reconciliation.
	EventRewardPending EventType = "reward.pending"
	// EventRewardReconciled is emitted when the reconciler resolves a pending credit.
	EventRewardReconciled EventType = "reward.reconciled"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RewardData is the payload of every reward event.
type RewardData struct {
	Record models.RewardRecord `json:"record"`
	// Outcome is set on reconciliation: confirmed, failed or expired.
	Outcome string `json:"outcome,omitempty"`
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
// A nil *Manager is valid and drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	log      *slog.Logger
	now      func() time.Time
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		log:      logger,
		now:      time.Now,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if m == nil || !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if m == nil {
		return
	}

	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: m.now(),
		Data:      data,
	}

	// Handlers outlive the request that published the event.
	ctx = context.WithoutCancel(ctx)
	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				m.log.Warn("event handler failed", "type", eventType, "error", err)
			}
		}(handler)
	}
}

// PublishGranted publishes a confirmed credit.
func (m *Manager) PublishGranted(ctx context.Context, rec models.RewardRecord) {
	m.Publish(ctx, EventRewardGranted, RewardData{Record: rec})
}

// PublishPending publishes a credit awaiting reconciliation.
func (m *Manager) PublishPending(ctx context.Context, rec models.RewardRecord) {
	m.Publish(ctx, EventRewardPending, RewardData{Record: rec})
}

// PublishReconciled publishes the resolution of a pending credit.
func (m *Manager) PublishReconciled(ctx context.Context, rec models.RewardRecord, outcome string) {
	m.Publish(ctx, EventRewardReconciled, RewardData{Record: rec, Outcome: outcome})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}

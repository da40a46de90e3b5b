// Package events provides the in-process event bus used to feed
// external observers (websocket stream, dashboard) without coupling
// modules to each other.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of event
type EventType string

const (
	CycleCompleted EventType = "CYCLE_COMPLETED"
	CycleFailed    EventType = "CYCLE_FAILED"
	PlanGenerated  EventType = "PLAN_GENERATED"
	TradeExecuted  EventType = "TRADE_EXECUTED"
	MarketAdvanced EventType = "MARKET_ADVANCED"
	BackupFinished EventType = "BACKUP_FINISHED"
)

// Event is one emitted occurrence with its payload
type Event struct {
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Manager fans events out to subscribers. Emission never blocks:
// subscribers with full buffers miss events (the audit trail lives in
// cycle_logs, not here).
type Manager struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	log    zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		subs: make(map[int]chan Event),
		log:  log.With().Str("component", "events").Logger(),
	}
}

// Emit publishes an event to all current subscribers
func (m *Manager) Emit(eventType EventType, source string, data map[string]interface{}) {
	event := Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, ch := range m.subs {
		select {
		case ch <- event:
		default:
			m.log.Debug().
				Int("subscriber", id).
				Str("event", string(eventType)).
				Msg("Subscriber buffer full, event dropped")
		}
	}

	m.log.Debug().
		Str("event", string(eventType)).
		Str("source", source).
		Msg("Event emitted")
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan Event, 64)
	m.subs[id] = ch

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a store lifecycle notification.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is one of the EventType constants.
	Type string `json:"type"`

	// Source identifies the component that published the event.
	Source string `json:"source"`

	// Target is the store the event concerns, if any.
	Target string `json:"target,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Store lifecycle event types.
const (
	EventTypeStoreConnected    = "store.connected"
	EventTypeStoreSwitched     = "store.switched"
	EventTypeStoreFallback     = "store.fallback"
	EventTypeStoreClosed       = "store.closed"
	EventTypeSchemaProvisioned = "schema.provisioned"
	EventTypeReplicationFailed = "replication.failed"
	EventTypeConfigReloaded    = "config.reloaded"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. A nil or disabled
// publisher drops everything.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishConnected reports a pool that passed its liveness probe.
func (ep *EventPublisher) PublishConnected(target, summary string) error {
	return ep.Publish(Event{
		Type:    EventTypeStoreConnected,
		Source:  "store",
		Target:  target,
		Message: fmt.Sprintf("Connected to %s database %s", target, summary),
		Level:   EventLevelInfo,
	})
}

// PublishSwitched reports a change of the active store.
func (ep *EventPublisher) PublishSwitched(from, to string) error {
	return ep.Publish(Event{
		Type:    EventTypeStoreSwitched,
		Source:  "store",
		Target:  to,
		Message: fmt.Sprintf("Active store switched from %s to %s", from, to),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishFallback reports that the external store could not be attached
// and traffic stays on the local store.
func (ep *EventPublisher) PublishFallback(op, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStoreFallback,
		Source:  "store",
		Target:  "local",
		Message: fmt.Sprintf("External store unavailable during %s, using local store: %s", op, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"op":     op,
			"reason": reason,
		},
	})
}

// PublishClosed reports that every pool was released.
func (ep *EventPublisher) PublishClosed() error {
	return ep.Publish(Event{
		Type:    EventTypeStoreClosed,
		Source:  "store",
		Message: "Database connections closed",
		Level:   EventLevelInfo,
	})
}

// PublishSchemaProvisioned reports a completed provisioning run.
func (ep *EventPublisher) PublishSchemaProvisioned(target string, statements int, migrations []string) error {
	return ep.Publish(Event{
		Type:    EventTypeSchemaProvisioned,
		Source:  "schema",
		Target:  target,
		Message: fmt.Sprintf("Provisioned %s schema (%d statements)", target, statements),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"statements": statements,
			"migrations": migrations,
		},
	})
}

// PublishReplicationFailed reports a mirror write that was dropped.
func (ep *EventPublisher) PublishReplicationFailed(taskID string, statements int, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeReplicationFailed,
		Source:  "replication",
		Target:  "local",
		Message: fmt.Sprintf("Replication task %s failed: %s", taskID, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"task_id":    taskID,
			"statements": statements,
			"reason":     reason,
		},
	})
}

// PublishConfigReloaded reports a configuration file change.
func (ep *EventPublisher) PublishConfigReloaded(path string) error {
	return ep.Publish(Event{
		Type:    EventTypeConfigReloaded,
		Source:  "config",
		Message: fmt.Sprintf("Configuration reloaded from %s", path),
		Level:   EventLevelInfo,
	})
}

// Subscribe adds a new event subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents delivers buffered events until shutdown, then drains.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

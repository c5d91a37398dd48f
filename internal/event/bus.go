package event

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultHistorySize is the default capacity of the history ring.
const DefaultHistorySize = 1000

// Bus errors.
var (
	// ErrNilHandler is returned when subscribing with a nil handler.
	ErrNilHandler = errors.New("event: handler is nil")

	// ErrEmptyType is returned when subscribing to an empty event type.
	ErrEmptyType = errors.New("event: event type is empty")
)

// subscription is the bus-owned record for one subscriber.
// It is never handed to subscribers by reference; they hold only the
// opaque handle string.
type subscription struct {
	id         string
	eventType  string
	handler    Handler
	predicate  Predicate
	priority   Priority
	subscriber string
	seq        uint64

	// active is read by Emit outside the bus lock while Unsubscribe flips
	// it under the lock, so it must be atomic.
	active atomic.Bool
}

// Bus is a synchronous priority pub/sub bus with bounded history.
// All methods are safe for concurrent use. Delivery order is deterministic
// within one Emit call; ordering across concurrent Emit calls is only
// guaranteed as far as history admission.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription // by event type, sorted desc priority
	byID map[string]*subscription
	seq  uint64

	history    []Event // ring buffer
	historyCap int
	historyPos int // next write index
	historyLen int

	log zerolog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithHistorySize sets the history ring capacity.
func WithHistorySize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(log zerolog.Logger) BusOption {
	return func(b *Bus) {
		b.log = log
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:       make(map[string][]*subscription),
		byID:       make(map[string]*subscription),
		historyCap: DefaultHistorySize,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.history = make([]Event, b.historyCap)
	return b
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscription)

// WithPredicate attaches a delivery filter to the subscription.
func WithPredicate(p Predicate) SubscribeOption {
	return func(s *subscription) {
		s.predicate = p
	}
}

// WithPriority sets the subscription's delivery priority.
func WithPriority(p Priority) SubscribeOption {
	return func(s *subscription) {
		s.priority = p
	}
}

// WithSubscriber records the subscriber's identity (usually a plugin id).
func WithSubscriber(id string) SubscribeOption {
	return func(s *subscription) {
		s.subscriber = id
	}
}

// Subscribe registers a handler for one event type and returns an opaque
// handle usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler, opts ...SubscribeOption) (string, error) {
	if handler == nil {
		return "", ErrNilHandler
	}
	if eventType == "" {
		return "", ErrEmptyType
	}

	sub := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		priority:  PriorityNormal,
	}
	sub.active.Store(true)
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub.seq = b.seq

	list := append(b.subs[eventType], sub)
	// Descending priority; equal priorities keep subscription order.
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.subs[eventType] = list
	b.byID[sub.id] = sub

	return sub.id, nil
}

// Unsubscribe removes a subscription. Removing an unknown or already
// removed handle is a no-op.
func (b *Bus) Unsubscribe(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[handle]
	if !ok {
		return
	}
	sub.active.Store(false)
	delete(b.byID, handle)

	list := b.subs[sub.eventType]
	for i, s := range list {
		if s.id == handle {
			b.subs[sub.eventType] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// UnsubscribeAll removes every subscription owned by the given subscriber.
func (b *Bus) UnsubscribeAll(subscriber string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, list := range b.subs {
		kept := list[:0]
		for _, s := range list {
			if s.subscriber == subscriber {
				s.active.Store(false)
				delete(b.byID, s.id)
				continue
			}
			kept = append(kept, s)
		}
		b.subs[eventType] = kept
	}
}

// Emit records the event in history and delivers it synchronously to all
// active matching subscribers in priority order. A panicking handler is
// logged and delivery continues with the remaining subscribers.
func (b *Bus) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history[b.historyPos] = e
	b.historyPos = (b.historyPos + 1) % b.historyCap
	if b.historyLen < b.historyCap {
		b.historyLen++
	}
	// Snapshot matching subscribers so handlers run outside the lock and
	// may themselves subscribe or unsubscribe.
	matched := make([]*subscription, len(b.subs[e.Type]))
	copy(matched, b.subs[e.Type])
	b.mu.Unlock()

	for _, sub := range matched {
		if !sub.active.Load() {
			continue
		}
		if sub.predicate != nil && !sub.predicate(e) {
			continue
		}
		b.deliver(sub, e)
	}
}

// deliver invokes one handler with panic recovery.
func (b *Bus) deliver(sub *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("event_type", e.Type).
				Str("event_id", e.ID).
				Str("subscriber", sub.subscriber).
				Any("panic", r).
				Msg("event handler panicked")
		}
	}()
	sub.handler(e)
}

// HistoryFilter narrows a History query.
type HistoryFilter struct {
	// Type, when non-empty, matches only events of that exact type.
	Type string

	// Source, when non-empty, matches only events from that source.
	Source string

	// Limit caps the number of returned events to the most recent N.
	// Zero means no limit.
	Limit int
}

// History returns the most recent matching events in emission order.
func (b *Bus) History(filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Oldest entry first.
	var matched []Event
	start := b.historyPos - b.historyLen
	if start < 0 {
		start += b.historyCap
	}
	for i := 0; i < b.historyLen; i++ {
		e := b.history[(start+i)%b.historyCap]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		matched = append(matched, e)
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched
}

// SubscriberCount returns the number of active subscriptions for a type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

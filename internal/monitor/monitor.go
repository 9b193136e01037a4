// Package monitor fans loop progress out to display consumers.
//
// The loop owns the bus exclusively; a UI never reads bus state directly.
// Instead the monitor receives copies through the loop's observer hook and
// delivers them to subscribers over bounded channels, so a stalled display
// can never block an iteration.
package monitor

import (
	"sync"

	"hatloop/internal/bus"
	"hatloop/internal/loop"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// UpdateKind discriminates monitor updates.
type UpdateKind int

const (
	KindEvent UpdateKind = iota
	KindIterationStarted
	KindIterationFinished
)

// Update is one progress notification.
type Update struct {
	Kind      UpdateKind
	Event     bus.Event
	Iteration int
	HatID     string
	Success   bool
	State     loop.State
}

// Logger records drop diagnostics. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Option customizes Monitor construction.
type Option func(*Monitor)

// WithLogger injects a logger for drop/diagnostic messages.
func WithLogger(logger Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithSubscriberCapacity overrides the buffered channel size per subscriber.
func WithSubscriberCapacity(capacity int) Option {
	return func(m *Monitor) {
		if capacity > 0 {
			m.channelSize = capacity
		}
	}
}

// WithBacklogLimit overrides how many updates are buffered for subscribers
// that attach after the loop started.
func WithBacklogLimit(limit int) Option {
	return func(m *Monitor) {
		if limit > 0 {
			m.backlogLimit = limit
		}
	}
}

// Monitor implements loop.Observer and rebroadcasts updates.
type Monitor struct {
	mu           sync.RWMutex
	subscribers  map[*subscriber]struct{}
	backlog      []Update
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription is an active update stream.
type Subscription struct {
	Updates <-chan Update
	cancel  func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// New constructs a monitor with sane defaults.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		subscribers:  map[*subscriber]struct{}{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Subscribe attaches a display consumer. Updates buffered before the first
// subscriber arrived are replayed in order.
func (m *Monitor) Subscribe() Subscription {
	sub := newSubscriber(m.channelSize, m.logger)
	var backlog []Update
	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	if len(m.backlog) > 0 {
		backlog = append(backlog, m.backlog...)
		m.backlog = nil
	}
	m.mu.Unlock()
	for _, update := range backlog {
		sub.deliver(update)
	}
	return Subscription{
		Updates: sub.channel(),
		cancel:  func() { m.removeSubscriber(sub) },
	}
}

// EventPublished satisfies loop.Observer.
func (m *Monitor) EventPublished(event bus.Event) {
	if event.ID != "" && m.isDuplicate(event.ID) {
		return
	}
	m.broadcast(Update{Kind: KindEvent, Event: event})
}

// IterationStarted satisfies loop.Observer.
func (m *Monitor) IterationStarted(iteration int, hatID string) {
	m.broadcast(Update{Kind: KindIterationStarted, Iteration: iteration, HatID: hatID})
}

// IterationFinished satisfies loop.Observer.
func (m *Monitor) IterationFinished(iteration int, hatID string, success bool, state loop.State) {
	m.broadcast(Update{
		Kind:      KindIterationFinished,
		Iteration: iteration,
		HatID:     hatID,
		Success:   success,
		State:     state,
	})
}

func (m *Monitor) broadcast(update Update) {
	m.mu.RLock()
	subs := make([]*subscriber, 0, len(m.subscribers))
	for sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()
	if len(subs) == 0 {
		m.bufferUpdate(update)
		return
	}
	for _, sub := range subs {
		sub.deliver(update)
	}
}

func (m *Monitor) bufferUpdate(update Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.backlog) >= m.backlogLimit {
		m.backlog = m.backlog[1:]
		if m.logger != nil {
			m.logger.Printf("monitor: backlog drop (limit %d)", m.backlogLimit)
		}
	}
	m.backlog = append(m.backlog, update)
}

func (m *Monitor) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	delete(m.subscribers, sub)
	m.mu.Unlock()
	sub.close()
}

func (m *Monitor) isDuplicate(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recentIDs[eventID]; ok {
		return true
	}
	m.recentIDs[eventID] = struct{}{}
	m.recentOrder = append(m.recentOrder, eventID)
	if len(m.recentOrder) > m.dedupeWindow {
		oldest := m.recentOrder[0]
		m.recentOrder = m.recentOrder[1:]
		delete(m.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch      chan Update
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Update, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Update {
	return s.ch
}

// deliver drops the oldest buffered update on overflow; a display that
// falls behind loses history, never the loop's time.
func (s *subscriber) deliver(update Update) {
	if s.isClosed() {
		return
	}
	select {
	case s.ch <- update:
	default:
		select {
		case dropped := <-s.ch:
			if s.logger != nil {
				s.logger.Printf("monitor: dropped update (kind %d)", dropped.Kind)
			}
		default:
		}
		select {
		case s.ch <- update:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *subscriber) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

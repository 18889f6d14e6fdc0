package device

import (
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener receives channel changes. It is called synchronously after the
// store lock is released and must not block.
type Listener func(Change)

// StoreOptions configures a Store.
type StoreOptions struct {
	// OptimisticTTL bounds how long an unconfirmed local write shadows the
	// confirmed state. Zero disables expiry.
	OptimisticTTL time.Duration

	// Clock overrides time.Now. Used by tests.
	Clock func() time.Time

	Logger Logger
}

type channelEntry struct {
	confirmed bool
	known     bool

	pending      bool
	optimistic   bool
	optimisticAt time.Time

	source    Source
	updatedAt time.Time
}

// Store holds the state of the eight relay channels.
//
// Three write paths feed it: poll results (every channel), webhook events
// (one channel) and optimistic local writes (one channel). Reads return the
// optimistic value while it is pending and not expired, else the confirmed
// value.
//
// All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	channels [ChannelCount]channelEntry
	ttl      time.Duration
	now      func() time.Time
	logger   Logger

	listenersMu sync.RWMutex
	listeners   []listenerEntry
	nextID      uint64
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// NewStore creates a store with all channels off and unconfirmed.
func NewStore(opts StoreOptions) *Store {
	s := &Store{
		ttl:    opts.OptimisticTTL,
		now:    opts.Clock,
		logger: opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// Subscribe registers a listener and returns a function that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// IsOn returns the effective state of a channel. Invalid indexes read as off.
func (s *Store) IsOn(index int) bool {
	if ValidChannel(index) != nil {
		return false
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.effective(&s.channels[index-1], now)
}

// Channel returns a view of one channel.
func (s *Store) Channel(index int) (ChannelState, error) {
	if err := ValidChannel(index); err != nil {
		return ChannelState{}, err
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view(index, now), nil
}

// Snapshot returns a view of every channel, ordered by index.
func (s *Store) Snapshot() []ChannelState {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChannelState, 0, ChannelCount)
	for i := 1; i <= ChannelCount; i++ {
		out = append(out, s.view(i, now))
	}
	return out
}

// SetOptimistic records a local write before the device has confirmed it.
func (s *Store) SetOptimistic(index int, on bool) error {
	if err := ValidChannel(index); err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	var changes []Change
	if expired, _, changed := s.expire(index, now); changed {
		changes = append(changes, expired)
	}
	e := &s.channels[index-1]
	before := s.effective(e, now)
	e.pending = true
	e.optimistic = on
	e.optimisticAt = now
	e.source = SourceOptimistic
	e.updatedAt = now
	if before != on {
		changes = append(changes, Change{Index: index, On: on, Previous: before, Source: SourceOptimistic, At: now})
	}
	s.mu.Unlock()

	s.notify(changes)
	return nil
}

// ApplyWebhook sets the confirmed state of one channel from a device push.
// Any optimistic value for the channel is superseded.
func (s *Store) ApplyWebhook(index int, on bool) error {
	if err := ValidChannel(index); err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	var changes []Change
	if expired, _, changed := s.expire(index, now); changed {
		changes = append(changes, expired)
	}
	if change, changed := s.confirm(index, on, SourceWebhook, now, now); changed {
		changes = append(changes, change)
	}
	s.mu.Unlock()

	s.notify(changes)
	return nil
}

// ApplyPoll replaces the confirmed state of every channel.
//
// requestedAt is when the status request was issued. Optimistic values set
// after that instant are newer than the poll and stay in place; older ones
// are superseded. A result missing any channel is rejected and the store is
// left unchanged.
func (s *Store) ApplyPoll(states map[int]bool, requestedAt time.Time) error {
	if len(states) != ChannelCount {
		return fmt.Errorf("%w: got %d channels, want %d", ErrIncompleteStatus, len(states), ChannelCount)
	}
	for i := 1; i <= ChannelCount; i++ {
		if _, ok := states[i]; !ok {
			return fmt.Errorf("%w: channel %d missing", ErrIncompleteStatus, i)
		}
	}
	now := s.now()

	s.mu.Lock()
	var changes []Change
	for i := 1; i <= ChannelCount; i++ {
		if expired, _, changed := s.expire(i, now); changed {
			changes = append(changes, expired)
		}
		if change, changed := s.confirm(i, states[i], SourcePoll, requestedAt, now); changed {
			changes = append(changes, change)
		}
	}
	s.mu.Unlock()

	s.notify(changes)
	return nil
}

// ExpireOptimistic drops optimistic values older than the configured TTL
// and returns how many were dropped. It is a no-op when expiry is disabled.
func (s *Store) ExpireOptimistic() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()

	s.mu.Lock()
	var (
		changes []Change
		expired int
	)
	for i := 1; i <= ChannelCount; i++ {
		change, dropped, changed := s.expire(i, now)
		if dropped {
			expired++
		}
		if changed {
			changes = append(changes, change)
		}
	}
	s.mu.Unlock()

	s.notify(changes)
	return expired
}

// expire drops a pending optimistic value that has outlived the TTL.
// Observers saw the optimistic value, so a differing confirmed value is
// reported as a change. Must be called with s.mu held.
func (s *Store) expire(index int, now time.Time) (change Change, dropped, changed bool) {
	e := &s.channels[index-1]
	if s.ttl <= 0 || !e.pending || now.Sub(e.optimisticAt) < s.ttl {
		return Change{}, false, false
	}
	e.pending = false
	e.source = SourceExpired
	e.updatedAt = now
	if e.optimistic == e.confirmed {
		return Change{}, true, false
	}
	s.logger.Warn("optimistic state expired without confirmation",
		"channel", index, "optimistic", e.optimistic, "confirmed", e.confirmed)
	return Change{Index: index, On: e.confirmed, Previous: e.optimistic, Source: SourceExpired, At: now}, true, true
}

// confirm applies a confirmed value. Must be called with s.mu held.
// An optimistic value set at or before cutoff is cleared.
func (s *Store) confirm(index int, on bool, src Source, cutoff, now time.Time) (Change, bool) {
	e := &s.channels[index-1]
	before := s.effective(e, now)
	firstReport := !e.known

	e.confirmed = on
	e.known = true
	if e.pending && !e.optimisticAt.After(cutoff) {
		if e.optimistic != on {
			s.logger.Debug("optimistic state superseded",
				"channel", index, "optimistic", e.optimistic, "confirmed", on, "source", src)
		}
		e.pending = false
	}
	e.source = src
	e.updatedAt = now

	after := s.effective(e, now)
	if before == after && !firstReport {
		return Change{}, false
	}
	return Change{Index: index, On: after, Previous: before, Source: src, At: now}, true
}

// effective resolves the readable value of a channel. Must be called with s.mu held.
func (s *Store) effective(e *channelEntry, now time.Time) bool {
	if e.pending && (s.ttl <= 0 || now.Sub(e.optimisticAt) < s.ttl) {
		return e.optimistic
	}
	return e.confirmed
}

// view builds a ChannelState. Must be called with s.mu held.
func (s *Store) view(index int, now time.Time) ChannelState {
	e := &s.channels[index-1]
	cs := ChannelState{
		Index:     index,
		On:        s.effective(e, now),
		Confirmed: e.confirmed,
		Known:     e.known,
		Source:    e.source,
		UpdatedAt: e.updatedAt,
	}
	if e.pending && (s.ttl <= 0 || now.Sub(e.optimisticAt) < s.ttl) {
		since := e.optimisticAt
		cs.Pending = true
		cs.PendingSince = &since
	}
	return cs
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}

	s.listenersMu.RLock()
	listeners := make([]Listener, len(s.listeners))
	for i, l := range s.listeners {
		listeners[i] = l.fn
	}
	s.listenersMu.RUnlock()

	for _, c := range changes {
		for _, fn := range listeners {
			fn(c)
		}
	}
}

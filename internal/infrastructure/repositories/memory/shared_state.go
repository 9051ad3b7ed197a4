package memory

import (
	"context"
	"errors"
	"path"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type subscriber struct {
	patterns []string
	ch       chan published
}

func (s *subscriber) matches(channel string) bool {
	for _, p := range s.patterns {
		if ok, _ := path.Match(p, channel); ok {
			return true
		}
	}
	return false
}

type published struct {
	channel string
	payload []byte
}

// MemorySharedState is a single-process stand-in for the cluster store.
// Publish delivers to subscribers without blocking; a slow subscriber drops.
type MemorySharedState struct {
	mu     sync.Mutex
	values map[string]entry
	sets   map[string]map[string]struct{}
	subs   map[*subscriber]struct{}
	now    func() time.Time
	closed bool
}

func NewMemorySharedState() *MemorySharedState {
	return &MemorySharedState{
		values: make(map[string]entry),
		sets:   make(map[string]map[string]struct{}),
		subs:   make(map[*subscriber]struct{}),
		now:    time.Now,
	}
}

func (s *MemorySharedState) getLocked(key string) (entry, bool) {
	e, ok := s.values[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.values, key)
		return entry{}, false
	}
	return e, true
}

func (s *MemorySharedState) Incr(ctx context.Context, key string) (int64, error) {
	return s.IncrBy(ctx, key, 1)
}

func (s *MemorySharedState) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.getLocked(key)
	var n int64
	if e.value != "" {
		var err error
		n, err = strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, errors.New("value is not an integer")
		}
	}
	n += delta
	e.value = strconv.FormatInt(n, 10)
	s.values[key] = e
	return n, nil
}

func (s *MemorySharedState) DecrFloor(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.getLocked(key)
	var n int64
	if e.value != "" {
		var err error
		n, err = strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, errors.New("value is not an integer")
		}
	}
	n--
	if n < 0 {
		n = 0
	}
	e.value = strconv.FormatInt(n, 10)
	s.values[key] = e
	return n, nil
}

func (s *MemorySharedState) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.getLocked(key)
	return e.value, ok, nil
}

func (s *MemorySharedState) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = e
	return nil
}

// SetNX stores value only when key is absent. Used for leases.
func (s *MemorySharedState) SetNX(key, value string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.getLocked(key); ok {
		return false
	}
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = e
	return true
}

// DeleteIf removes key only while it still holds value.
func (s *MemorySharedState) DeleteIf(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.getLocked(key)
	if !ok || e.value != value {
		return false
	}
	delete(s.values, key)
	return true
}

func (s *MemorySharedState) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
		delete(s.sets, k)
	}
	return nil
}

func (s *MemorySharedState) SetAdd(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.sets[set]
	if !ok {
		m = make(map[string]struct{})
		s.sets[set] = m
	}
	m[member] = struct{}{}
	return nil
}

func (s *MemorySharedState) SetRemove(ctx context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.sets[set]; ok {
		delete(m, member)
		if len(m) == 0 {
			delete(s.sets, set)
		}
	}
	return nil
}

func (s *MemorySharedState) SetMembers(ctx context.Context, set string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.sets[set]))
	for m := range s.sets[set] {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemorySharedState) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := published{channel: channel, payload: append([]byte(nil), payload...)}
	for sub := range s.subs {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (s *MemorySharedState) Subscribe(ctx context.Context, handler func(channel string, payload []byte), patterns ...string) error {
	sub := &subscriber{
		patterns: patterns,
		ch:       make(chan published, 256),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("shared state closed")
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-sub.ch:
			handler(msg.channel, msg.payload)
		}
	}
}

func (s *MemorySharedState) Ping(ctx context.Context) error {
	return nil
}

func (s *MemorySharedState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

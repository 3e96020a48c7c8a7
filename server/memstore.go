package server

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pipelined/memcached"
)

// entry is one stored item plus the bookkeeping the text protocol's
// arithmetic and expiry commands need.
type entry struct {
	value   []byte
	flags   uint16
	cas     uint64
	expires time.Time // zero means "never"
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemoryBackend is a reference Backend backed by an in-process map. It
// exists to give Serve something runnable out of the box and to
// exercise Backend's full surface in tests; production use should
// supply a Backend backed by real storage.
type MemoryBackend struct {
	mu      sync.Mutex
	items   map[string]entry
	nextCAS uint64
	version string
}

// NewMemoryBackend returns a newBackend factory for Serve: every call
// returns the same MemoryBackend, so all accepted connections share one
// map and mutex and state is visible across connections the way a real
// memcached server's is.
func NewMemoryBackend() func() Backend {
	shared := &MemoryBackend{
		items:   make(map[string]entry),
		version: runtime.Version(),
	}
	return func() Backend { return shared }
}

func expiryTime(expiry uint32) time.Time {
	if expiry == 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(expiry) * time.Second)
}

func (m *MemoryBackend) store(key string, value []byte, flags uint16, expiry uint32) entry {
	m.nextCAS++
	e := entry{value: value, flags: flags, cas: m.nextCAS, expires: expiryTime(expiry)}
	m.items[key] = e
	return e
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, flags uint16, expiry uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(key, value, flags, expiry)
	return nil
}

func (m *MemoryBackend) Add(_ context.Context, key string, value []byte, flags uint16, expiry uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok && !e.expired(time.Now()) {
		return memcached.ErrNotStored
	}
	m.store(key, value, flags, expiry)
	return nil
}

func (m *MemoryBackend) Replace(_ context.Context, key string, value []byte, flags uint16, expiry uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; !ok || e.expired(time.Now()) {
		return memcached.ErrNotStored
	}
	m.store(key, value, flags, expiry)
	return nil
}

func (m *MemoryBackend) Append(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || e.expired(time.Now()) {
		return memcached.ErrNotStored
	}
	e.value = append(append([]byte(nil), e.value...), value...)
	m.nextCAS++
	e.cas = m.nextCAS
	m.items[key] = e
	return nil
}

func (m *MemoryBackend) Prepend(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || e.expired(time.Now()) {
		return memcached.ErrNotStored
	}
	e.value = append(append([]byte(nil), value...), e.value...)
	m.nextCAS++
	e.cas = m.nextCAS
	m.items[key] = e
	return nil
}

func (m *MemoryBackend) Cas(_ context.Context, key string, value []byte, flags uint16, expiry uint32, cas uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || e.expired(time.Now()) {
		return memcached.ErrNotFound
	}
	if e.cas != cas {
		return memcached.ErrExists
	}
	m.store(key, value, flags, expiry)
	return nil
}

func (m *MemoryBackend) lookup(key string, withCAS bool) (memcached.Value, bool) {
	e, ok := m.items[key]
	if !ok || e.expired(time.Now()) {
		return memcached.Value{}, false
	}
	v := memcached.Value{Key: key, Payload: e.value, Flags: e.flags}
	if withCAS {
		v.CAS = e.cas
		v.HasCAS = true
	}
	return v, true
}

func (m *MemoryBackend) getMulti(keys []string, withCAS bool) []memcached.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	var values []memcached.Value
	for _, k := range keys {
		if v, ok := m.lookup(k, withCAS); ok {
			values = append(values, v)
		}
	}
	return values
}

func (m *MemoryBackend) Get(_ context.Context, keys ...string) ([]memcached.Value, error) {
	return m.getMulti(keys, false), nil
}

func (m *MemoryBackend) Gets(_ context.Context, keys ...string) ([]memcached.Value, error) {
	return m.getMulti(keys, true), nil
}

func (m *MemoryBackend) getAndTouchMulti(keys []string, expiry uint32, withCAS bool) []memcached.Value {
	m.mu.Lock()
	defer m.mu.Unlock()
	var values []memcached.Value
	for _, k := range keys {
		v, ok := m.lookup(k, withCAS)
		if !ok {
			continue
		}
		e := m.items[k]
		e.expires = expiryTime(expiry)
		m.items[k] = e
		values = append(values, v)
	}
	return values
}

func (m *MemoryBackend) GetAndTouch(_ context.Context, expiry uint32, keys ...string) ([]memcached.Value, error) {
	return m.getAndTouchMulti(keys, expiry, false), nil
}

func (m *MemoryBackend) GetAndTouches(_ context.Context, expiry uint32, keys ...string) ([]memcached.Value, error) {
	return m.getAndTouchMulti(keys, expiry, true), nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || e.expired(time.Now()) {
		return memcached.ErrNotFound
	}
	delete(m.items, key)
	return nil
}

func (m *MemoryBackend) arithmetic(key string, delta uint64, incr bool) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || e.expired(time.Now()) {
		return 0, memcached.ErrNotFound
	}
	current, err := parseDecimal(e.value)
	if err != nil {
		return 0, memcached.ErrClientError
	}
	var next uint64
	if incr {
		next = current + delta
	} else if delta > current {
		next = 0
	} else {
		next = current - delta
	}
	e.value = []byte(formatDecimal(next))
	m.nextCAS++
	e.cas = m.nextCAS
	m.items[key] = e
	return next, nil
}

func (m *MemoryBackend) Incr(_ context.Context, key string, delta uint64) (uint64, error) {
	return m.arithmetic(key, delta, true)
}

func (m *MemoryBackend) Decr(_ context.Context, key string, delta uint64) (uint64, error) {
	return m.arithmetic(key, delta, false)
}

func (m *MemoryBackend) Touch(_ context.Context, key string, expiry uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok || e.expired(time.Now()) {
		return memcached.ErrNotFound
	}
	e.expires = expiryTime(expiry)
	m.items[key] = e
	return nil
}

func (m *MemoryBackend) FlushAll(_ context.Context, delay uint32, hasDelay bool) error {
	if hasDelay && delay > 0 {
		go func(d time.Duration) {
			time.Sleep(d)
			m.mu.Lock()
			m.items = make(map[string]entry)
			m.mu.Unlock()
		}(time.Duration(delay) * time.Second)
		return nil
	}
	m.mu.Lock()
	m.items = make(map[string]entry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Version(_ context.Context) (string, error) {
	return m.version, nil
}

func (m *MemoryBackend) Stats(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]string{
		"curr_items": formatDecimal(uint64(len(m.items))),
		"version":    m.version,
	}, nil
}

func parseDecimal(b []byte) (uint64, error) {
	var v uint64
	if len(b) == 0 {
		return 0, memcached.ErrClientError
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, memcached.ErrClientError
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}

func formatDecimal(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

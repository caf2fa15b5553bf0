// Package lock serializes check-and-commit units that touch the same
// staff-day or client-day.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Locker acquires a named exclusive lock. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// StaffDayKey names the lock for a staff member's calendar day.
func StaffDayKey(staffID string, day time.Time) string {
	return fmt.Sprintf("staff:%s:%s", staffID, day.Format("2006-01-02"))
}

// ClientDayKey names the lock for a client's calendar day.
func ClientDayKey(phone string, day time.Time) string {
	return fmt.Sprintf("client:%s:%s", phone, day.Format("2006-01-02"))
}

// AcquireAll takes every key in sorted order so two units never wait on each
// other crosswise. On error the keys already held are released.
func AcquireAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	sorted := dedupe(keys)

	unlocks := make([]func(), 0, len(sorted))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, key := range sorted {
		unlock, err := l.Lock(ctx, key)
		if err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Local is an in-process keyed mutex. Entries are dropped once no goroutine holds or waits on them.
type Local struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *Local) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

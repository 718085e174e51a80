package monitor

import (
	"sort"
	"sync"
)

// watchSet is the per-device set of monitored interfaces and subscribers.
// It outlives worker restarts; only the process lifetime resets it.
type watchSet struct {
	mu          sync.RWMutex
	interfaces  map[string]struct{}
	subscribers map[string]struct{}
}

func newWatchSet() *watchSet {
	return &watchSet{
		interfaces:  make(map[string]struct{}),
		subscribers: make(map[string]struct{}),
	}
}

func (w *watchSet) addInterfaces(names ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range names {
		if n != "" {
			w.interfaces[n] = struct{}{}
		}
	}
}

func (w *watchSet) removeInterfaces(names ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, n := range names {
		delete(w.interfaces, n)
	}
}

func (w *watchSet) addSubscribers(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.subscribers[id] = struct{}{}
	}
}

// removeSubscribers drops ids and reports how many were present.
func (w *watchSet) removeSubscribers(ids ...string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := w.subscribers[id]; ok {
			delete(w.subscribers, id)
			n++
		}
	}
	return n
}

// snapshot returns sorted copies of both sets.
func (w *watchSet) snapshot() (interfaces, subscribers []string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedKeys(w.interfaces), sortedKeys(w.subscribers)
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry is an in-process Registry. TTLs are ignored: instances live
// until deregistered.
type MemoryRegistry struct {
	mu        sync.RWMutex
	instances map[string]map[string]ServiceInstance // service → id → instance
	watchers  map[string]map[chan []ServiceInstance]struct{}
	closed    bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]map[string]ServiceInstance),
		watchers:  make(map[string]map[chan []ServiceInstance]struct{}),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if m.instances[serviceName] == nil {
		m.instances[serviceName] = make(map[string]ServiceInstance)
	}
	m.instances[serviceName][instance.ID] = instance
	m.notifyLocked(serviceName)
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, serviceName string, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if _, ok := m.instances[serviceName][instanceID]; !ok {
		return nil
	}
	delete(m.instances[serviceName], instanceID)
	m.notifyLocked(serviceName)
	return nil
}

func (m *MemoryRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.listLocked(serviceName), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch
	}
	if m.watchers[serviceName] == nil {
		m.watchers[serviceName] = make(map[chan []ServiceInstance]struct{})
	}
	m.watchers[serviceName][ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[serviceName][ch]; ok {
			delete(m.watchers[serviceName], ch)
			close(ch)
		}
	}()

	return ch
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, set := range m.watchers {
		for ch := range set {
			close(ch)
		}
	}
	m.watchers = nil
	return nil
}

// listLocked returns instances sorted by ID so balancers see a stable order.
func (m *MemoryRegistry) listLocked(serviceName string) []ServiceInstance {
	list := make([]ServiceInstance, 0, len(m.instances[serviceName]))
	for _, inst := range m.instances[serviceName] {
		list = append(list, inst)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// notifyLocked replaces any undelivered snapshot with the latest one so slow
// watchers never block registration.
func (m *MemoryRegistry) notifyLocked(serviceName string) {
	snapshot := m.listLocked(serviceName)
	for ch := range m.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

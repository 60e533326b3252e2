package health

import (
	"sort"
	"sync"
	"time"
)

// Check reports the live status of a component.
type Check func() Status

// Monitor tracks the health of named components. A component is either
// updated explicitly or evaluated on demand through a Check.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]Check
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]Check),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// AddCheck registers a check evaluated on every Get and AggregateHealth.
// It replaces a static status of the same name.
func (m *Monitor) AddCheck(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	m.checks[name] = check
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	check, isCheck := m.checks[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if isCheck {
		return evaluate(name, check), true
	}
	return status, exists
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checks, name)
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses) + len(m.checks)
}

// AggregateHealth returns the system status with one sub-status per
// component, sorted by name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses)+len(m.checks))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	// checks run outside the lock, they may be slow
	for name, check := range checks {
		subStatuses = append(subStatuses, evaluate(name, check))
	}
	sort.Slice(subStatuses, func(i, j int) bool { return subStatuses[i].Component < subStatuses[j].Component })

	return Aggregate(systemName, subStatuses)
}

func evaluate(name string, check Check) Status {
	status := check()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}

package telephony

import (
	"sort"
	"sync"
	"time"
)

// DefaultCosts is the static cost per minute in USD.
var DefaultCosts = map[ProviderName]float64{
	Plivo:      0.0085,
	SignalWire: 0.0085,
	Telnyx:     0.006,
	Bandwidth:  0.0065,
	Twilio:     0.013,
	Vonage:     0.012,
}

// ProviderRecord is the registry's view of one carrier.
type ProviderRecord struct {
	Name          ProviderName `json:"name"`
	Priority      int          `json:"priority"`
	Enabled       bool         `json:"enabled"`
	Healthy       bool         `json:"healthy"`
	CostPerMinute float64      `json:"cost_per_minute"`
	LastChecked   *time.Time   `json:"last_checked,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
}

// Registry tracks provider priority and health. Providers start healthy.
// A failed call or a failed health check marks a provider unhealthy. Only a
// passing health check restores it.
type Registry struct {
	mu      sync.RWMutex
	records map[ProviderName]*ProviderRecord
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[ProviderName]*ProviderRecord)}
}

// Register adds or replaces a provider.
func (r *Registry) Register(name ProviderName, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[name] = &ProviderRecord{
		Name:          name,
		Priority:      priority,
		Enabled:       true,
		Healthy:       true,
		CostPerMinute: DefaultCosts[name],
	}
}

// Ordered returns enabled providers by ascending priority, ties by name.
func (r *Registry) Ordered() []ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]ProviderName, 0, len(r.records))
	for name, rec := range r.records {
		if rec.Enabled {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := r.records[names[i]], r.records[names[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})
	return names
}

func (r *Registry) Has(name ProviderName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[name]
	return ok
}

func (r *Registry) Healthy(name ProviderName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	return ok && rec.Enabled && rec.Healthy
}

// MarkFailed records a real call failure.
func (r *Registry) MarkFailed(name ProviderName, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return
	}
	rec.Healthy = false
	if err != nil {
		rec.LastError = err.Error()
	}
}

// RecordHealthCheck stores the outcome of a health check.
func (r *Registry) RecordHealthCheck(name ProviderName, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return
	}
	rec.Healthy = err == nil
	rec.LastChecked = &at
	rec.LastError = ""
	if err != nil {
		rec.LastError = err.Error()
	}
}

// CheapestHealthy picks the healthy provider with the lowest cost per minute.
func (r *Registry) CheapestHealthy() (ProviderName, bool) {
	var (
		best  ProviderName
		found bool
		cost  float64
	)
	for _, name := range r.Ordered() {
		if !r.Healthy(name) {
			continue
		}
		c := r.Cost(name)
		if !found || c < cost {
			best, cost, found = name, c, true
		}
	}
	return best, found
}

func (r *Registry) Cost(name ProviderName) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[name]; ok {
		return rec.CostPerMinute
	}
	return 0
}

// Snapshot returns copies of every record in priority order.
func (r *Registry) Snapshot() []ProviderRecord {
	order := r.Ordered()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderRecord, 0, len(order))
	for _, name := range order {
		rec := *r.records[name]
		if rec.LastChecked != nil {
			t := *rec.LastChecked
			rec.LastChecked = &t
		}
		out = append(out, rec)
	}
	return out
}

package telephony

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	apperrors "github.com/acme/call-dispatch-engine/pkg/errors"
)

// Router places calls through registered adapters, failing over in priority
// order and skipping providers marked unhealthy.
type Router struct {
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time

	mu             sync.RWMutex
	adapters       map[ProviderName]Adapter
	primary        ProviderName
	failover       bool
	checkOnFailure bool
}

type RouterOption func(*Router)

func WithPrimary(name ProviderName) RouterOption {
	return func(r *Router) { r.primary = name }
}

func WithFailover(enabled bool) RouterOption {
	return func(r *Router) { r.failover = enabled }
}

// WithCheckOnFailure triggers an asynchronous health check whenever a
// provider fails a real call.
func WithCheckOnFailure(enabled bool) RouterOption {
	return func(r *Router) { r.checkOnFailure = enabled }
}

func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		registry: NewRegistry(),
		logger:   zap.NewNop(),
		now:      time.Now,
		adapters: make(map[ProviderName]Adapter),
		failover: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an adapter at the given priority. Lower runs first.
func (r *Router) Register(adapter Adapter, priority int) {
	r.mu.Lock()
	r.adapters[adapter.Name()] = adapter
	r.mu.Unlock()
	r.registry.Register(adapter.Name(), priority)
}

func (r *Router) adapter(name ProviderName) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", apperrors.ErrNotFound, name)
	}
	return a, nil
}

// Primary returns the configured primary, or the first provider by priority.
func (r *Router) Primary() ProviderName {
	r.mu.RLock()
	primary := r.primary
	r.mu.RUnlock()
	if primary != "" && r.registry.Has(primary) {
		return primary
	}
	if order := r.registry.Ordered(); len(order) > 0 {
		return order[0]
	}
	return ""
}

func (r *Router) SetPrimary(name ProviderName) error {
	if !r.registry.Has(name) {
		return fmt.Errorf("%w: provider %s", apperrors.ErrNotFound, name)
	}
	r.mu.Lock()
	r.primary = name
	r.mu.Unlock()
	return nil
}

func (r *Router) SetFailoverEnabled(enabled bool) {
	r.mu.Lock()
	r.failover = enabled
	r.mu.Unlock()
}

func (r *Router) FailoverEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failover
}

// Providers returns the registry snapshot.
func (r *Router) Providers() []ProviderRecord {
	return r.registry.Snapshot()
}

func (r *Router) candidates() []ProviderName {
	if !r.FailoverEnabled() {
		if primary := r.Primary(); primary != "" {
			return []ProviderName{primary}
		}
		return nil
	}
	return r.registry.Ordered()
}

// PlaceCall tries each healthy candidate in priority order and returns the
// first success. A failing provider is marked unhealthy. When every
// candidate fails the result carries the failure and the error wraps
// ErrAllProvidersFailed.
func (r *Router) PlaceCall(ctx context.Context, req CallRequest) (CallResult, error) {
	ctx, span := otel.Tracer("telephony").Start(ctx, "telephony.place_call")
	defer span.End()

	var lastErr error
	for _, name := range r.candidates() {
		if !r.registry.Healthy(name) {
			r.logger.Debug("skipping unhealthy provider", zap.String("provider", string(name)))
			continue
		}
		res, err := r.placeWith(ctx, name, req)
		if err == nil {
			span.SetAttributes(attribute.String("provider", string(name)))
			return res, nil
		}
		lastErr = err
		r.logger.Warn("provider failed to place call",
			zap.String("provider", string(name)),
			zap.String("to", req.To),
			zap.Error(err))
	}

	msg := "no healthy provider available"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	span.SetStatus(codes.Error, msg)
	return CallResult{Success: false, Status: StateFailed, Error: msg},
		fmt.Errorf("%w: %s", apperrors.ErrAllProvidersFailed, msg)
}

// PlaceCallWith pins a single provider and ignores health and failover.
func (r *Router) PlaceCallWith(ctx context.Context, name ProviderName, req CallRequest) (CallResult, error) {
	res, err := r.placeWith(ctx, name, req)
	if err != nil {
		return CallResult{Success: false, Provider: name, Status: StateFailed, Error: err.Error()}, err
	}
	return res, nil
}

// PlaceCallCheapest tries the cheapest healthy provider first and falls back
// to ordinary failover.
func (r *Router) PlaceCallCheapest(ctx context.Context, req CallRequest) (CallResult, error) {
	if name, ok := r.registry.CheapestHealthy(); ok {
		if res, err := r.placeWith(ctx, name, req); err == nil {
			return res, nil
		}
	}
	return r.PlaceCall(ctx, req)
}

func (r *Router) placeWith(ctx context.Context, name ProviderName, req CallRequest) (CallResult, error) {
	a, err := r.adapter(name)
	if err != nil {
		return CallResult{}, err
	}
	res, err := a.PlaceCall(ctx, req)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s: %s", apperrors.ErrProvider, name, res.Error)
	}
	if err != nil {
		r.registry.MarkFailed(name, err)
		if r.checkOnFailure {
			go r.CheckHealth(context.WithoutCancel(ctx), name)
		}
		return CallResult{}, err
	}
	res.Provider = name
	if res.Status == "" {
		res.Status = StateQueued
	}
	return res, nil
}

// each runs fn against the named provider, or against every provider in
// priority order until one succeeds when name is empty.
func (r *Router) each(name ProviderName, fn func(Adapter) error) error {
	if name != "" {
		a, err := r.adapter(name)
		if err != nil {
			return err
		}
		return fn(a)
	}
	lastErr := fmt.Errorf("%w: no provider registered", apperrors.ErrNotFound)
	for _, n := range r.registry.Ordered() {
		a, err := r.adapter(n)
		if err != nil {
			continue
		}
		if err := fn(a); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// Status queries the named provider, or every provider when name is empty.
func (r *Router) Status(ctx context.Context, callID string, name ProviderName) (CallStatus, error) {
	var status CallStatus
	err := r.each(name, func(a Adapter) error {
		s, err := a.Status(ctx, callID)
		if err != nil {
			return err
		}
		s.Provider = a.Name()
		status = s
		return nil
	})
	return status, err
}

func (r *Router) EndCall(ctx context.Context, callID string, name ProviderName) error {
	return r.each(name, func(a Adapter) error { return a.EndCall(ctx, callID) })
}

func (r *Router) Transfer(ctx context.Context, callID, to string, name ProviderName) error {
	return r.each(name, func(a Adapter) error { return a.Transfer(ctx, callID, to) })
}

// SendSMS uses the same candidate order as PlaceCall but leaves health alone.
func (r *Router) SendSMS(ctx context.Context, req SMSRequest) (SMSResult, error) {
	var lastErr error
	for _, name := range r.candidates() {
		if !r.registry.Healthy(name) {
			continue
		}
		a, err := r.adapter(name)
		if err != nil {
			continue
		}
		res, err := a.SendSMS(ctx, req)
		if err == nil && res.Success {
			res.Provider = name
			return res, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: %s: %s", apperrors.ErrProvider, name, res.Error)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no healthy provider available")
	}
	return SMSResult{Success: false, Error: lastErr.Error()},
		fmt.Errorf("%w: %w", apperrors.ErrAllProvidersFailed, lastErr)
}

// ListNumbers aggregates numbers across providers. A provider that fails is
// skipped.
func (r *Router) ListNumbers(ctx context.Context, name ProviderName) ([]PhoneNumber, error) {
	if name != "" {
		a, err := r.adapter(name)
		if err != nil {
			return nil, err
		}
		return a.ListNumbers(ctx)
	}
	var out []PhoneNumber
	for _, n := range r.registry.Ordered() {
		a, err := r.adapter(n)
		if err != nil {
			continue
		}
		numbers, err := a.ListNumbers(ctx)
		if err != nil {
			r.logger.Warn("list numbers failed", zap.String("provider", string(n)), zap.Error(err))
			continue
		}
		out = append(out, numbers...)
	}
	return out, nil
}

func (r *Router) PurchaseNumber(ctx context.Context, number string, name ProviderName) (PhoneNumber, error) {
	if name == "" {
		name = r.Primary()
	}
	a, err := r.adapter(name)
	if err != nil {
		return PhoneNumber{}, err
	}
	return a.PurchaseNumber(ctx, number)
}

func (r *Router) ReleaseNumber(ctx context.Context, number string, name ProviderName) error {
	if name == "" {
		name = r.Primary()
	}
	a, err := r.adapter(name)
	if err != nil {
		return err
	}
	return a.ReleaseNumber(ctx, number)
}

// ParseWebhook normalizes a carrier callback.
func (r *Router) ParseWebhook(name ProviderName, payload map[string]any) (WebhookEvent, error) {
	a, err := r.adapter(name)
	if err != nil {
		return WebhookEvent{}, err
	}
	event, err := a.ParseWebhook(payload)
	if err != nil {
		return WebhookEvent{}, err
	}
	event.Provider = name
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	return event, nil
}

// CheckHealth checks one provider and records the outcome.
func (r *Router) CheckHealth(ctx context.Context, name ProviderName) bool {
	a, err := r.adapter(name)
	if err != nil {
		return false
	}
	err = a.HealthCheck(ctx)
	r.registry.RecordHealthCheck(name, err, r.now())
	if err != nil {
		r.logger.Warn("provider health check failed", zap.String("provider", string(name)), zap.Error(err))
		return false
	}
	return true
}

// CheckAll checks every provider concurrently.
func (r *Router) CheckAll(ctx context.Context) []ProviderRecord {
	var wg sync.WaitGroup
	for _, name := range r.registry.Ordered() {
		wg.Add(1)
		go func(name ProviderName) {
			defer wg.Done()
			r.CheckHealth(ctx, name)
		}(name)
	}
	wg.Wait()
	return r.registry.Snapshot()
}

// RunHealthChecks checks all providers every interval until ctx is done.
func (r *Router) RunHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CheckAll(ctx)
		}
	}
}

// CostEstimate prices a call of a given length on one provider.
type CostEstimate struct {
	Provider      ProviderName `json:"provider"`
	CostPerMinute float64      `json:"cost_per_minute"`
	Cost          float64      `json:"cost"`
}

// EstimateCost prices a call of minutes on every healthy provider, cheapest
// first.
func (r *Router) EstimateCost(minutes float64) []CostEstimate {
	var out []CostEstimate
	for _, name := range r.registry.Ordered() {
		if !r.registry.Healthy(name) {
			continue
		}
		rate := r.registry.Cost(name)
		out = append(out, CostEstimate{Provider: name, CostPerMinute: rate, Cost: rate * minutes})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	return out
}

// CheapestHealthy returns the healthy provider with the lowest rate.
func (r *Router) CheapestHealthy() (ProviderName, bool) {
	return r.registry.CheapestHealthy()
}

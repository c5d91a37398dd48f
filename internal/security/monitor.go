package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Limits defines per-plugin resource limits. A zero field is unlimited.
type Limits struct {
	MemoryMB    float64
	CPUPercent  float64
	DiskMB      float64
	NetworkMbps float64
}

// Unlimited reports whether no limit is set at all.
func (l Limits) Unlimited() bool {
	return l.MemoryMB == 0 && l.CPUPercent == 0 && l.DiskMB == 0 && l.NetworkMbps == 0
}

// Usage is a point-in-time sample of a plugin's resource consumption.
type Usage struct {
	MemoryMB    float64
	CPUPercent  float64
	DiskMB      float64
	NetworkMbps float64
	SampledAt   time.Time
}

// Violation records one observed limit breach.
type Violation struct {
	PluginID  string
	Resource  string
	Observed  float64
	Limit     float64
	Timestamp time.Time
}

// Action is the enforcement step taken for a violation.
type Action int

// Enforcement actions, mildest to harshest.
const (
	ActionLog Action = iota
	ActionThrottle
	ActionSuspend
	ActionTerminate
)

// String returns a string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionLog:
		return "log"
	case ActionThrottle:
		return "throttle"
	case ActionSuspend:
		return "suspend"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Policy maps consecutive breaches within a sliding window to actions.
// Steps[0] applies to the first breach, Steps[1] to the second, and so on;
// the final step repeats for further breaches. Breaches older than Window
// reset the escalation.
type Policy struct {
	Window time.Duration
	Steps  []Action
}

// DefaultPolicy throttles on the first breach and suspends on a second
// consecutive breach within the window. This default is a host choice, not
// an invariant; embedders override it via WithPolicy.
func DefaultPolicy() Policy {
	return Policy{
		Window: 30 * time.Second,
		Steps:  []Action{ActionThrottle, ActionSuspend, ActionTerminate},
	}
}

// action returns the enforcement action for the nth consecutive breach
// (1-based).
func (p Policy) action(breachCount int) Action {
	if len(p.Steps) == 0 {
		return ActionLog
	}
	if breachCount > len(p.Steps) {
		return p.Steps[len(p.Steps)-1]
	}
	return p.Steps[breachCount-1]
}

// Sampler supplies raw usage numbers for a plugin. Implemented by an
// OS/runtime collaborator outside this package.
type Sampler interface {
	Sample(pluginID string) (Usage, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(pluginID string) (Usage, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample(pluginID string) (Usage, error) {
	return f(pluginID)
}

// ViolationHandler is invoked for every breach with the escalated action.
// Handlers run on the sampling goroutine and must not block.
type ViolationHandler func(v Violation, action Action)

// DefaultSampleInterval is how often the monitor polls the sampler.
const DefaultSampleInterval = 5 * time.Second

// Monitor tracks per-plugin resource usage against limits.
// The sampling loop runs on its own goroutine so it never blocks callers.
type Monitor struct {
	mu       sync.RWMutex
	limits   map[string]Limits
	usage    map[string]Usage
	breaches map[string][]time.Time

	sampler     Sampler
	policy      Policy
	onViolation ViolationHandler
	interval    time.Duration

	stop chan struct{}
	done chan struct{}
	log  zerolog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithPolicy sets the escalation policy.
func WithPolicy(p Policy) MonitorOption {
	return func(m *Monitor) {
		m.policy = p
	}
}

// WithSampleInterval sets the polling interval.
func WithSampleInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithViolationHandler sets the breach callback.
func WithViolationHandler(h ViolationHandler) MonitorOption {
	return func(m *Monitor) {
		m.onViolation = h
	}
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(log zerolog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.log = log
	}
}

// NewMonitor creates a resource monitor backed by the given sampler.
func NewMonitor(sampler Sampler, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		limits:   make(map[string]Limits),
		usage:    make(map[string]Usage),
		breaches: make(map[string][]time.Time),
		sampler:  sampler,
		policy:   DefaultPolicy(),
		interval: DefaultSampleInterval,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLimits registers limits for a plugin. Zero-valued limits mean the
// plugin is tracked but never violates.
func (m *Monitor) SetLimits(pluginID string, limits Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[pluginID] = limits
}

// Untrack stops monitoring a plugin and clears its breach history.
func (m *Monitor) Untrack(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.limits, pluginID)
	delete(m.usage, pluginID)
	delete(m.breaches, pluginID)
}

// Usage returns the last recorded sample for a plugin.
func (m *Monitor) Usage(pluginID string) (Usage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.usage[pluginID]
	return u, ok
}

// Start launches the background sampling loop. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.loop(stop, done)
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stop == nil {
		m.mu.Unlock()
		return
	}
	stop, done := m.stop, m.done
	m.stop = nil
	m.done = nil
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Monitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sampleAll()
		}
	}
}

// sampleAll polls the sampler for every tracked plugin.
func (m *Monitor) sampleAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.limits))
	for id := range m.limits {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		usage, err := m.sampler.Sample(id)
		if err != nil {
			m.log.Debug().Err(err).Str("plugin", id).Msg("resource sample failed")
			continue
		}
		m.Record(id, usage)
	}
}

// Record applies one usage sample, detecting and escalating violations.
// Exposed so tests and push-style collaborators can feed samples directly.
func (m *Monitor) Record(pluginID string, usage Usage) {
	if usage.SampledAt.IsZero() {
		usage.SampledAt = time.Now()
	}

	m.mu.Lock()
	limits, tracked := m.limits[pluginID]
	m.usage[pluginID] = usage

	if !tracked || limits.Unlimited() {
		m.mu.Unlock()
		return
	}

	violations := breachesOf(pluginID, usage, limits)
	if len(violations) == 0 {
		// A clean sample ends the consecutive-breach run.
		delete(m.breaches, pluginID)
		m.mu.Unlock()
		return
	}

	now := usage.SampledAt
	recent := m.breaches[pluginID][:0]
	for _, t := range m.breaches[pluginID] {
		if now.Sub(t) <= m.policy.Window {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	m.breaches[pluginID] = recent
	action := m.policy.action(len(recent))
	handler := m.onViolation
	m.mu.Unlock()

	for _, v := range violations {
		m.log.Warn().
			Str("plugin", v.PluginID).
			Str("resource", v.Resource).
			Float64("observed", v.Observed).
			Float64("limit", v.Limit).
			Str("action", action.String()).
			Msg("resource limit exceeded")
		if handler != nil {
			handler(v, action)
		}
	}
}

// breachesOf compares a sample against limits. Zero limits never violate.
func breachesOf(pluginID string, usage Usage, limits Limits) []Violation {
	var out []Violation
	check := func(resource string, observed, limit float64) {
		if limit > 0 && observed > limit {
			out = append(out, Violation{
				PluginID:  pluginID,
				Resource:  resource,
				Observed:  observed,
				Limit:     limit,
				Timestamp: usage.SampledAt,
			})
		}
	}
	check("memory_mb", usage.MemoryMB, limits.MemoryMB)
	check("cpu_percent", usage.CPUPercent, limits.CPUPercent)
	check("disk_mb", usage.DiskMB, limits.DiskMB)
	check("network_mbps", usage.NetworkMbps, limits.NetworkMbps)
	return out
}

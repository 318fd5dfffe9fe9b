// Package readiness tracks whether the server can serve chat requests.
//
// A [Tracker] holds one boolean per named check plus a human-readable
// diagnostic. Startup writes it; chat calls and the /readyz probe read it.
// The server is ready only when every registered check passes.
package readiness

import (
	"sync"
)

// Check names used by the server.
const (
	// CheckConfiguration passes once all required settings are present.
	CheckConfiguration = "configuration"

	// CheckModel passes once the provider has been created and the remote
	// model responded to a details request.
	CheckModel = "model"
)

// DefaultDiagnostic is reported before startup has recorded anything.
const DefaultDiagnostic = "The agent has not been configured yet."

// CheckStatus is one entry of a [Snapshot].
type CheckStatus struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
}

// Snapshot is a point-in-time copy of a [Tracker].
type Snapshot struct {
	Ready      bool
	Diagnostic string
	Checks     []CheckStatus
}

// Tracker is safe for concurrent use. The zero value is not usable; create
// one with [New].
type Tracker struct {
	mu         sync.RWMutex
	order      []string
	checks     map[string]bool
	diagnostic string
}

// New returns a Tracker with the given checks registered, all failing, and
// the diagnostic set to [DefaultDiagnostic]. With no names the default checks
// [CheckConfiguration] and [CheckModel] are registered.
func New(names ...string) *Tracker {
	if len(names) == 0 {
		names = []string{CheckConfiguration, CheckModel}
	}
	t := &Tracker{
		checks:     make(map[string]bool, len(names)),
		diagnostic: DefaultDiagnostic,
	}
	for _, n := range names {
		if _, dup := t.checks[n]; dup {
			continue
		}
		t.order = append(t.order, n)
		t.checks[n] = false
	}
	return t
}

// Set records the outcome of check name. Unknown names are registered.
func (t *Tracker) Set(name string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.checks[name]; !known {
		t.order = append(t.order, name)
	}
	t.checks[name] = ok
}

// Fail marks check name as failing and replaces the diagnostic in one step,
// so readers never observe one without the other.
func (t *Tracker) Fail(name, diagnostic string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, known := t.checks[name]; !known {
		t.order = append(t.order, name)
	}
	t.checks[name] = false
	t.diagnostic = diagnostic
}

// SetDiagnostic replaces the diagnostic message.
func (t *Tracker) SetDiagnostic(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.diagnostic = msg
}

// Diagnostic returns the current diagnostic message.
func (t *Tracker) Diagnostic() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.diagnostic
}

// Check reports the state of check name. Unknown checks report false.
func (t *Tracker) Check(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.checks[name]
}

// Ready reports whether every registered check passes.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readyLocked()
}

// Snapshot returns a consistent copy of all state, with checks in
// registration order.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		Ready:      t.readyLocked(),
		Diagnostic: t.diagnostic,
		Checks:     make([]CheckStatus, 0, len(t.order)),
	}
	for _, n := range t.order {
		s.Checks = append(s.Checks, CheckStatus{Name: n, OK: t.checks[n]})
	}
	return s
}

func (t *Tracker) readyLocked() bool {
	if len(t.order) == 0 {
		return false
	}
	for _, n := range t.order {
		if !t.checks[n] {
			return false
		}
	}
	return true
}

// Package credential tracks the health of the external download credential.
// The scheduler consults the flag before draining; a stale or revoked
// credential halts downloads instead of burning attempts against a service
// that will refuse them.
package credential

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// Validation is the outcome of one remote credential check.
type Validation struct {
	Valid       bool
	AccountInfo string
	Err         error // network-level failure; Valid is meaningless when set
}

// Validator checks the credential against the remote service.
type Validator interface {
	Validate(ctx context.Context, secret string) Validation
}

// failureKeywords in a download error message flip the flag to invalid
// immediately, without waiting for the next scheduled check.
var failureKeywords = []string{
	"invalid", "expired", "unauthorized", "forbidden",
	"credential", "login", "auth", "arl",
}

// Monitor periodically validates the credential and records the result.
type Monitor struct {
	mu          sync.Mutex
	secret      string
	validator   Validator
	valid       bool
	lastChecked time.Time
	lastInfo    string
}

// NewMonitor constructs a monitor. The flag starts valid so the first drain
// is not blocked before the startup check completes; the startup check
// corrects it promptly when the credential is actually dead.
func NewMonitor(secret string, validator Validator) *Monitor {
	return &Monitor{
		secret:    secret,
		validator: validator,
		valid:     true,
	}
}

// Check runs one validation round. A request that fails for network reasons
// keeps the previous flag: transient connectivity loss must not produce a
// false "revoked" signal. Only an explicit rejection flips the flag.
func (m *Monitor) Check(ctx context.Context) {
	if m == nil || m.validator == nil {
		return
	}
	m.mu.Lock()
	secret := m.secret
	m.mu.Unlock()
	if strings.TrimSpace(secret) == "" {
		m.setValid(false, "")
		return
	}

	res := m.validator.Validate(ctx, secret)
	if res.Err != nil {
		log.Printf("Credential: validation unreachable, keeping previous state: %v", res.Err)
		m.mu.Lock()
		m.lastChecked = time.Now().UTC()
		m.mu.Unlock()
		return
	}
	if !res.Valid {
		log.Printf("Credential: rejected by remote service")
	}
	m.setValid(res.Valid, res.AccountInfo)
}

// Valid reports the current flag.
func (m *Monitor) Valid() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// SetSecret swaps the credential (settings change) and optimistically marks
// it valid until the next check.
func (m *Monitor) SetSecret(secret string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.secret = secret
	m.valid = strings.TrimSpace(secret) != ""
	m.mu.Unlock()
}

// ReportDownloadError is the immediate side channel: a download failure whose
// text matches credential-related keywords invalidates the flag right away.
func (m *Monitor) ReportDownloadError(errText string) {
	if m == nil || errText == "" {
		return
	}
	lower := strings.ToLower(errText)
	for _, kw := range failureKeywords {
		if strings.Contains(lower, kw) {
			log.Printf("Credential: download failure looks credential-related (%q), marking invalid", kw)
			m.setValid(false, "")
			return
		}
	}
}

// LastChecked returns when the flag was last confirmed against the remote.
func (m *Monitor) LastChecked() time.Time {
	if m == nil {
		return time.Time{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChecked
}

// AccountInfo returns the remote account description from the last
// successful validation.
func (m *Monitor) AccountInfo() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInfo
}

func (m *Monitor) setValid(valid bool, info string) {
	m.mu.Lock()
	m.valid = valid
	m.lastChecked = time.Now().UTC()
	if info != "" {
		m.lastInfo = info
	}
	m.mu.Unlock()
}

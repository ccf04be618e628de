// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consent implements the default-deny consent registry gating all
// access to subject-scoped data.
//
// A subject accumulates a full history of grants per scope; the current
// answer for a scope is the most recent grant that is still granted and
// unexpired. Withdrawal and expiry are terminal: a withdrawn or expired
// grant is never resurrected, a fresh grant must be created to restore
// access.
//
// Check carries a documented side effect: a grant whose expiry has passed
// but whose status still reads granted is transitioned to expired during
// the scan (lazy expiry). This keeps expiry immediate from the caller's
// point of view without a background sweeper, at the price of Check taking
// the write lock.
package consent

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harmonyedu/trustcore/pkg/telemetry"
)

// Scope is a named category of permitted data use.
type Scope string

const (
	ScopeBasicInfo        Scope = "basic_info"        // name, grade level
	ScopeAcademicPatterns Scope = "academic_patterns" // learning patterns (anonymized)
	ScopeClassroomSignals Scope = "classroom_signals" // aggregated classroom data
	ScopeCollaboration    Scope = "collaboration"     // cross-teacher coordination
	ScopeSupportRouting   Scope = "support_routing"   // referrals to counselors
)

// Status of a consent grant.
type Status string

const (
	StatusGranted   Status = "granted"
	StatusDenied    Status = "denied"
	StatusWithdrawn Status = "withdrawn"
	StatusExpired   Status = "expired"
)

// ErrConsentDenied is the sentinel behind Require failures.
var ErrConsentDenied = errors.New("consent denied")

// DeniedError reports which subject/scope pair lacked consent.
type DeniedError struct {
	SubjectID string
	Scope     Scope
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("consent required: %s for subject %s (access denied by default)",
		e.Scope, e.SubjectID)
}

// Unwrap returns the sentinel error.
func (e *DeniedError) Unwrap() error {
	return ErrConsentDenied
}

// Grant is one record of consent. Records are append-only: status
// transitions (granted → withdrawn, granted → expired) mutate a record in
// place, but records are never deleted.
type Grant struct {
	GrantID     string     `json:"grant_id"`
	SubjectID   string     `json:"subject_id"`
	Scope       Scope      `json:"scope"`
	Status      Status     `json:"status"`
	GrantedAt   time.Time  `json:"granted_at"`
	GrantedBy   string     `json:"granted_by"` // parent/guardian identifier
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
}

// Config configures a Registry.
type Config struct {
	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	// Logger receives grant/withdraw/deny events. Nil disables logging.
	Logger *slog.Logger
}

// Registry owns the per-subject grant histories. Safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	grants map[string][]*Grant
	clock  func() time.Time
	logger *slog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		grants: make(map[string][]*Grant),
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}
}

// Grant records a new consent grant and returns a copy of it.
//
// A new record is always created; prior grants for the same scope are
// neither overwritten nor deduplicated, so the full history is retained.
func (r *Registry) Grant(subjectID string, scope Scope, grantedBy string, expiresAt *time.Time) Grant {
	grant := &Grant{
		GrantID:   uuid.NewString(),
		SubjectID: subjectID,
		Scope:     scope,
		Status:    StatusGranted,
		GrantedAt: r.clock().UTC(),
		GrantedBy: grantedBy,
		ExpiresAt: copyTime(expiresAt),
	}

	r.mu.Lock()
	r.grants[subjectID] = append(r.grants[subjectID], grant)
	r.mu.Unlock()

	r.logger.Info("consent granted",
		"subject_id", subjectID,
		"scope", scope,
		"granted_by", grantedBy,
		"grant_id", grant.GrantID,
	)
	return *grant
}

// Check reports whether valid consent exists for the subject/scope pair.
// The default is deny: true requires a grant whose status is granted and
// whose expiry, if set, lies in the future.
//
// Side effect: grants found expired during the scan have their status
// transitioned to expired in place (lazy expiry). Check therefore takes
// the registry's write lock even though it reads.
func (r *Registry) Check(subjectID string, scope Scope) bool {
	r.mu.Lock()
	ok := r.checkLocked(subjectID, scope)
	r.mu.Unlock()

	outcome := "denied"
	if ok {
		outcome = "granted"
	}
	telemetry.ConsentChecks.WithLabelValues(outcome).Inc()
	return ok
}

// checkLocked is Check's body; the caller holds r.mu.
func (r *Registry) checkLocked(subjectID string, scope Scope) bool {
	now := r.clock().UTC()
	valid := false
	for _, grant := range r.grants[subjectID] {
		if grant.Scope != scope || grant.Status != StatusGranted {
			continue
		}
		if grant.ExpiresAt != nil && !grant.ExpiresAt.After(now) {
			grant.Status = StatusExpired
			continue
		}
		valid = true
	}
	return valid
}

// Withdraw transitions every currently-granted record for the pair to
// withdrawn, stamping the withdrawal time, and reports whether any record
// changed. Withdrawal is terminal.
func (r *Registry) Withdraw(subjectID string, scope Scope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock().UTC()
	withdrawn := false
	for _, grant := range r.grants[subjectID] {
		if grant.Scope == scope && grant.Status == StatusGranted {
			grant.Status = StatusWithdrawn
			grant.WithdrawnAt = &now
			withdrawn = true
		}
	}
	if withdrawn {
		r.logger.Info("consent withdrawn", "subject_id", subjectID, "scope", scope)
	}
	return withdrawn
}

// Require is the enforcement wrapper around Check and the only mechanism
// other components should use to gate access to subject-scoped data. It
// returns a DeniedError when no valid consent exists. Denials are
// deterministic: retrying without a new grant fails again.
func (r *Registry) Require(subjectID string, scope Scope) error {
	if r.Check(subjectID, scope) {
		return nil
	}
	telemetry.ConsentDenials.Inc()
	r.logger.Warn("consent denied", "subject_id", subjectID, "scope", scope)
	return &DeniedError{SubjectID: subjectID, Scope: scope}
}

// ListGrants returns the subject's full grant history, oldest first, as a
// snapshot: later mutations do not affect the returned slice.
func (r *Registry) ListGrants(subjectID string) []Grant {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.grants[subjectID]
	out := make([]Grant, 0, len(history))
	for _, grant := range history {
		g := *grant
		g.ExpiresAt = copyTime(grant.ExpiresAt)
		g.WithdrawnAt = copyTime(grant.WithdrawnAt)
		out = append(out, g)
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

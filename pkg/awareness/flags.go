// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package awareness detects participation and engagement patterns that
// may warrant a teacher's attention, and routes flags to support
// resources.
//
// Flags are descriptive, never diagnostic: every flag carries a
// description of what the numbers show and a suggested action phrased as
// "Consider...", and construction enforces that IsDiagnostic is false and
// RequiresTeacherJudgment is true. Detection is gated on the consent
// registry; no flag is produced for a subject without a valid grant for
// the relevant scope.
package awareness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harmonyedu/trustcore/pkg/consent"
	"github.com/harmonyedu/trustcore/pkg/signals"
)

// Severity is the urgency level of a flag, for the teacher's triage.
type Severity string

const (
	SeverityInfo      Severity = "info"      // FYI only
	SeverityAttention Severity = "attention" // may want to check in
	SeverityPriority  Severity = "priority"  // recommend a check-in soon
)

// FlagType names the kind of pattern a flag reports.
type FlagType string

const (
	FlagParticipationChange  FlagType = "participation_change"
	FlagPatternShift         FlagType = "pattern_shift"
	FlagEngagementDeviation  FlagType = "engagement_deviation"
	FlagCollaborationConcern FlagType = "collaboration_concern"
)

// participationDropRatio is the fraction of the baseline average below
// which a recent average counts as a significant participation decrease.
const participationDropRatio = 0.5

// minRecentSamples is the minimum number of recent observations before
// any participation flag can be raised.
const minRecentSamples = 3

var (
	// ErrDiagnosticFlag rejects any attempt to construct a diagnostic flag.
	ErrDiagnosticFlag = errors.New("flags cannot be diagnostic")

	// ErrJudgmentRequired rejects flags not requiring teacher judgment.
	ErrJudgmentRequired = errors.New("flags must require teacher judgment")

	// ErrEmptyBaseline rejects detection calls with no baseline data.
	ErrEmptyBaseline = errors.New("baseline data is empty")
)

// Flag is a single awareness flag for a teacher.
//
// IsDiagnostic must always be false and RequiresTeacherJudgment must
// always be true; NewFlag enforces both. VisibleToStudent defaults to
// false, teacher-only.
type Flag struct {
	FlagID                  string    `json:"flag_id"`
	Type                    FlagType  `json:"flag_type"`
	Severity                Severity  `json:"severity"`
	Description             string    `json:"description"`      // descriptive, not diagnostic
	SuggestedAction         string    `json:"suggested_action"` // "Consider..." not "Student has..."
	Context                 string    `json:"context"`
	DetectedAt              time.Time `json:"detected_at"`
	SubjectID               string    `json:"subject_id"`
	IsDiagnostic            bool      `json:"is_diagnostic"`
	RequiresTeacherJudgment bool      `json:"requires_teacher_judgment"`
	VisibleToStudent        bool      `json:"visible_to_student"`
}

// NewFlag validates the safety constraints and assigns a flag ID.
func NewFlag(f Flag) (Flag, error) {
	if f.IsDiagnostic {
		return Flag{}, ErrDiagnosticFlag
	}
	if !f.RequiresTeacherJudgment {
		return Flag{}, ErrJudgmentRequired
	}
	if f.FlagID == "" {
		f.FlagID = uuid.NewString()
	}
	return f, nil
}

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	// Consent gates all per-subject detection. Required.
	Consent *consent.Registry

	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	// Logger receives detection events. Nil disables logging.
	Logger *slog.Logger
}

// Detector raises awareness flags from participation and engagement
// series. Stateless apart from its collaborators; safe for concurrent use.
type Detector struct {
	consent *consent.Registry
	clock   func() time.Time
	logger  *slog.Logger
}

// NewDetector returns a Detector. The consent registry is required.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.Consent == nil {
		return nil, errors.New("a consent registry is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Detector{consent: cfg.Consent, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// DetectParticipationChange compares recent participation scores against
// a baseline and raises an attention flag when the recent average drops
// below half the baseline average.
//
// Requires a valid academic_patterns grant for the subject; without one
// the call fails with a consent denial and no data is examined. Fewer
// than three recent samples produce no flag (nil, nil): short series are
// noise, not patterns.
func (d *Detector) DetectParticipationChange(subjectID string, recent, baseline []float64) (*Flag, error) {
	if err := d.consent.Require(subjectID, consent.ScopeAcademicPatterns); err != nil {
		return nil, err
	}
	if len(recent) < minRecentSamples {
		return nil, nil
	}
	if len(baseline) == 0 {
		return nil, ErrEmptyBaseline
	}

	recentStats, err := signals.CalculateStats(recent)
	if err != nil {
		return nil, err
	}
	baselineStats, err := signals.CalculateStats(baseline)
	if err != nil {
		return nil, err
	}

	if recentStats.Mean >= baselineStats.Mean*participationDropRatio {
		return nil, nil
	}

	flag, err := NewFlag(Flag{
		Type:            FlagParticipationChange,
		Severity:        SeverityAttention,
		Description:     "Participation pattern has decreased compared to baseline",
		SuggestedAction: "Consider checking in with the student about recent participation",
		Context: fmt.Sprintf("Recent average: %.1f, Baseline: %.1f",
			recentStats.Mean, baselineStats.Mean),
		DetectedAt:              d.clock().UTC(),
		SubjectID:               subjectID,
		RequiresTeacherJudgment: true,
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("awareness flag raised",
		"flag_id", flag.FlagID,
		"flag_type", flag.Type,
		"subject_id", subjectID,
	)
	return &flag, nil
}

// DetectEngagementDeviation flags a subject whose current engagement
// value sits more than thresholdStdDevs standard deviations from their
// baseline, in either direction.
//
// Requires a valid classroom_signals grant for the subject. A baseline
// too short to establish variance produces no flag.
func (d *Detector) DetectEngagementDeviation(subjectID string, current float64, baseline []float64, thresholdStdDevs float64) (*Flag, error) {
	if err := d.consent.Require(subjectID, consent.ScopeClassroomSignals); err != nil {
		return nil, err
	}

	significant, zScore := signals.DetectDeviation(current, baseline, thresholdStdDevs)
	if !significant {
		return nil, nil
	}

	flag, err := NewFlag(Flag{
		Type:                    FlagEngagementDeviation,
		Severity:                SeverityInfo,
		Description:             "Engagement level deviates from this subject's usual range",
		SuggestedAction:         "Consider whether recent classroom changes might explain the shift",
		Context:                 fmt.Sprintf("Current: %.1f, z-score: %.2f", current, zScore),
		DetectedAt:              d.clock().UTC(),
		SubjectID:               subjectID,
		RequiresTeacherJudgment: true,
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("awareness flag raised",
		"flag_id", flag.FlagID,
		"flag_type", flag.Type,
		"subject_id", subjectID,
	)
	return &flag, nil
}

// Routing is a support-routing suggestion for the teacher to review.
// It is a suggestion only: the teacher makes the final decision on
// every referral, so RequiresTeacherApproval is always true.
type Routing struct {
	FlagID                  string   `json:"flag_id"`
	SuggestedResource       string   `json:"suggested_resource"`
	Reason                  string   `json:"reason"`
	Urgency                 Severity `json:"urgency"`
	RequiresTeacherApproval bool     `json:"requires_teacher_approval"`
	TeacherNote             string   `json:"teacher_note"`
}

// Router maps awareness flags to available support resources.
type Router struct {
	consent *consent.Registry
	logger  *slog.Logger
}

// NewRouter returns a Router. The consent registry is required.
func NewRouter(registry *consent.Registry, logger *slog.Logger) (*Router, error) {
	if registry == nil {
		return nil, errors.New("a consent registry is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{consent: registry, logger: logger}, nil
}

// defaultResource is suggested when the flag's type has no better match
// among the available resources.
const defaultResource = "school_counselor"

// SuggestRouting proposes a support resource for the flag's subject.
//
// Requires a valid support_routing grant for the subject. The first
// available resource matching the default is preferred; otherwise the
// first available resource is suggested.
func (r *Router) SuggestRouting(flag Flag, availableResources []string) (Routing, error) {
	if err := r.consent.Require(flag.SubjectID, consent.ScopeSupportRouting); err != nil {
		return Routing{}, err
	}
	if len(availableResources) == 0 {
		return Routing{}, errors.New("no support resources available")
	}

	resource := availableResources[0]
	for _, candidate := range availableResources {
		if candidate == defaultResource {
			resource = candidate
			break
		}
	}

	routing := Routing{
		FlagID:                  flag.FlagID,
		SuggestedResource:       resource,
		Reason:                  "Pattern suggests additional support may help",
		Urgency:                 flag.Severity,
		RequiresTeacherApproval: true,
		TeacherNote:             "Review the flag context before making a referral",
	}

	r.logger.Info("support routing suggested",
		"flag_id", flag.FlagID,
		"resource", resource,
		"urgency", flag.Severity,
	)
	return routing, nil
}

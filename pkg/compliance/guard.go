// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compliance validates structured output against a fixed
// prohibited-content policy before it crosses the system boundary.
//
// The guard is the last gate in front of any output returned from an API,
// persisted for external consumption, or logged. It rejects typed outputs
// naming a prohibited output type, grade- or score-like fields without an
// explicit human-review flag, and any whole-word occurrence of the
// prohibited term vocabulary in nested string content. The policy itself
// is static, versioned data embedded at build time (see the enforcement
// subpackage), not string literals scattered through the scanner.
//
// A rejection is a usage error to fix at the call site, not a runtime
// condition to retry: the guard is stateless and deterministic, so the
// same output and context always produce the same decision.
package compliance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/harmonyedu/trustcore/pkg/compliance/enforcement"
	"github.com/harmonyedu/trustcore/pkg/telemetry"
)

// outputTypeField is the typed field checked against the prohibited
// output-type set.
const outputTypeField = "output_type"

// ErrViolation is the sentinel behind all guard rejections.
var ErrViolation = errors.New("compliance violation")

// ViolationError reports which rule rejected an output and why.
type ViolationError struct {
	Rule    string // policy rule: prohibited_output_type, automated_grading, prohibited_language
	Details string // human-readable detail, includes the caller's context
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("compliance violation: %s - %s", e.Rule, e.Details)
}

// Unwrap returns the sentinel error.
func (e *ViolationError) Unwrap() error {
	return ErrViolation
}

// Policy is the declarative prohibited-content policy. It is normally
// loaded from the embedded YAML; NewGuardFromPolicy accepts a custom one
// for tests.
type Policy struct {
	Version               int            `yaml:"version"`
	ProhibitedOutputTypes []string       `yaml:"prohibited_output_types"`
	ReviewRequiredFields  []string       `yaml:"review_required_fields"`
	ReviewFlagField       string         `yaml:"review_flag_field"`
	ProhibitedTerms       []TermCategory `yaml:"prohibited_terms"`
}

// TermCategory groups prohibited terms by the kind of content they signal.
type TermCategory struct {
	Category string   `yaml:"category"`
	Terms    []string `yaml:"terms"`
}

// Guard validates outputs against a compiled policy. Stateless after
// construction and safe for concurrent use.
type Guard struct {
	prohibitedTypes map[string]struct{}
	reviewFields    []string
	reviewFlagField string
	termCategory    map[string]string // lowercased term -> category
}

// NewGuard compiles the embedded policy into a Guard. It fails only if
// the embedded YAML is malformed or incomplete, which is a build defect.
func NewGuard() (*Guard, error) {
	var policy Policy
	if err := yaml.Unmarshal(enforcement.ProhibitedOutputPolicy, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy: %w", err)
	}
	return NewGuardFromPolicy(policy)
}

// NewGuardFromPolicy compiles an explicit policy into a Guard.
func NewGuardFromPolicy(policy Policy) (*Guard, error) {
	if len(policy.ProhibitedOutputTypes) == 0 {
		return nil, errors.New("policy declares no prohibited output types")
	}
	if policy.ReviewFlagField == "" {
		return nil, errors.New("policy declares no review flag field")
	}

	g := &Guard{
		prohibitedTypes: make(map[string]struct{}, len(policy.ProhibitedOutputTypes)),
		reviewFields:    policy.ReviewRequiredFields,
		reviewFlagField: policy.ReviewFlagField,
		termCategory:    make(map[string]string),
	}
	for _, t := range policy.ProhibitedOutputTypes {
		g.prohibitedTypes[t] = struct{}{}
	}
	for _, cat := range policy.ProhibitedTerms {
		for _, term := range cat.Terms {
			g.termCategory[strings.ToLower(term)] = cat.Category
		}
	}
	return g, nil
}

// Validate checks an output about to leave the system boundary and
// returns a ViolationError on the first rule it breaks.
//
// Checks run in order:
//  1. a typed output_type field naming a prohibited output type is
//     rejected unconditionally (no configuration can bypass this);
//  2. grade- or score-like top-level fields require the review flag field
//     to be explicitly true;
//  3. all string content is collected recursively, case-folded, and
//     matched whole-word against the prohibited term vocabulary.
//
// context is included in rejection details to help locate the call site.
func (g *Guard) Validate(output map[string]any, context string) error {
	if err := g.checkOutputType(output, context); err != nil {
		return err
	}
	if err := g.checkReviewFlag(output); err != nil {
		return err
	}
	return g.checkProhibitedTerms(output, context)
}

func (g *Guard) checkOutputType(output map[string]any, context string) error {
	typed, ok := output[outputTypeField].(string)
	if !ok {
		return nil
	}
	if _, prohibited := g.prohibitedTypes[typed]; prohibited {
		return g.reject("prohibited_output_type",
			fmt.Sprintf("output type %q is strictly forbidden. Context: %s", typed, context))
	}
	return nil
}

func (g *Guard) checkReviewFlag(output map[string]any) error {
	present := false
	for _, field := range g.reviewFields {
		if _, ok := output[field]; ok {
			present = true
			break
		}
	}
	if !present {
		return nil
	}
	if flag, ok := output[g.reviewFlagField].(bool); ok && flag {
		return nil
	}
	return g.reject("automated_grading",
		fmt.Sprintf("grades/scores must require teacher review. Set %s=true.", g.reviewFlagField))
}

func (g *Guard) checkProhibitedTerms(output map[string]any, context string) error {
	var text strings.Builder
	collectText(output, &text)

	found := map[string]struct{}{}
	for _, word := range splitWords(text.String()) {
		if _, ok := g.termCategory[word]; ok {
			found[word] = struct{}{}
		}
	}
	if len(found) == 0 {
		return nil
	}

	terms := make([]string, 0, len(found))
	for term := range found {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return g.reject("prohibited_language",
		fmt.Sprintf("prohibited terms found: %s. Context: %s", strings.Join(terms, ", "), context))
}

// reject records the violation metric and builds the error.
func (g *Guard) reject(rule, details string) error {
	telemetry.ComplianceViolations.WithLabelValues(rule).Inc()
	return &ViolationError{Rule: rule, Details: details}
}

// collectText recursively gathers all string content from a value,
// case-folded. Non-string scalars are rendered with %v so numeric or
// boolean fields cannot smuggle terms past the scan.
func collectText(value any, out *strings.Builder) {
	switch v := value.(type) {
	case string:
		out.WriteString(strings.ToLower(v))
		out.WriteByte(' ')
	case map[string]any:
		for _, item := range v {
			collectText(item, out)
		}
	case []any:
		for _, item := range v {
			collectText(item, out)
		}
	case nil:
		// nothing
	default:
		out.WriteString(strings.ToLower(fmt.Sprintf("%v", v)))
		out.WriteByte(' ')
	}
}

// splitWords tokenizes text into whole words: runs of letters, digits,
// and underscores. Underscore is a word character so compound terms like
// final_grade match as a single word, and "score" inside "scoreboard"
// does not match at all.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

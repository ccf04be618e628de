// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds the prometheus collectors shared by the trust
// core. Collectors register against the default registry via promauto;
// exposition (an HTTP handler or push gateway) is the embedding
// application's concern, not this library's.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trustcore"

var (
	// LedgerAppends counts entries appended to the audit ledger.
	LedgerAppends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "appends_total",
		Help:      "Number of entries appended to the audit ledger.",
	})

	// ChainVerifications counts full-chain verifications by result.
	ChainVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "chain_verifications_total",
		Help:      "Number of full audit chain verifications, labeled by result.",
	}, []string{"result"})

	// ConsentChecks counts consent checks by outcome.
	ConsentChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consent",
		Name:      "checks_total",
		Help:      "Number of consent checks, labeled by outcome (granted/denied).",
	}, []string{"outcome"})

	// ConsentDenials counts enforced denials (Require failures).
	ConsentDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consent",
		Name:      "denials_total",
		Help:      "Number of operations rejected by the consent gate.",
	})

	// ComplianceViolations counts guard rejections by rule.
	ComplianceViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compliance",
		Name:      "violations_total",
		Help:      "Number of outputs rejected by the compliance guard, labeled by rule.",
	}, []string{"rule"})

	// KeyRotations counts key generations that retired a previous key.
	KeyRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "keyring",
		Name:      "rotations_total",
		Help:      "Number of key rotations (a new active key retiring an old one).",
	})
)

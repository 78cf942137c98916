package api

import (
	"math"
	"time"
)

// Experiment statuses derived from the event log.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// Event types written to the event log.
const (
	EventExperimentStarted = "pricing_experiment.started"
	EventExperimentStopped = "pricing_experiment.stopped"
)

// Guardrails bounds a single proposal or start call
type Guardrails struct {
	MinDeltaPercent float64 `json:"min_delta_percent" yaml:"min_delta_percent"`
	MaxDeltaPercent float64 `json:"max_delta_percent" yaml:"max_delta_percent"`
	MaxVariants     int     `json:"max_variants" yaml:"max_variants"`
}

// Guardrail hard limits. Requests are clamped into these ranges.
const (
	MinDeltaFloor   = -20.0
	MaxDeltaCeiling = 20.0
	MaxVariantsCap  = 30
)

// DefaultGuardrails returns the bounds used when the caller supplies none
func DefaultGuardrails() Guardrails {
	return Guardrails{
		MinDeltaPercent: -10,
		MaxDeltaPercent: 10,
		MaxVariants:     10,
	}
}

// Assignment is one variant's baseline-to-proposed price change.
// Baselines are captured before any mutation and are the only way back.
type Assignment struct {
	VariantID              string   `json:"variant_id"`
	ProductID              string   `json:"product_id"`
	BaselinePrice          float64  `json:"baseline_price"`
	BaselineCompareAtPrice *float64 `json:"baseline_compare_at_price"`
	ProposedPrice          float64  `json:"proposed_price"`
	DeltaPercent           float64  `json:"delta_percent"`
	Rationale              string   `json:"rationale"`
}

// GuardrailsInput is what callers send; nil fields fall back to defaults
type GuardrailsInput struct {
	MinDeltaPercent *float64 `json:"min_delta_percent,omitempty"`
	MaxDeltaPercent *float64 `json:"max_delta_percent,omitempty"`
	MaxVariants     *int     `json:"max_variants,omitempty"`
}

// ProposalRequest asks for a set of assignments without mutating anything
type ProposalRequest struct {
	VariantIDs []string         `json:"variant_ids,omitempty"`
	Guardrails *GuardrailsInput `json:"guardrails,omitempty"`
}

// ProposalResult is returned to the caller and never persisted
type ProposalResult struct {
	Assignments []Assignment `json:"assignments"`
	Warnings    []string     `json:"warnings"`
	Guardrails  Guardrails   `json:"guardrails"`
}

// StartRequest starts an experiment under a caller-supplied identity
type StartRequest struct {
	ExperimentID string           `json:"experiment_id"`
	Name         string           `json:"name"`
	VariantIDs   []string         `json:"variant_ids,omitempty"`
	Guardrails   *GuardrailsInput `json:"guardrails,omitempty"`
	AutoApply    *bool            `json:"auto_apply,omitempty"`
}

// ShouldAutoApply reports whether prices are mutated on start (default true)
func (r StartRequest) ShouldAutoApply() bool {
	return r.AutoApply == nil || *r.AutoApply
}

type StartResult struct {
	ExperimentID    string       `json:"experiment_id"`
	Name            string       `json:"name"`
	Status          string       `json:"status"`
	StartedAt       string       `json:"started_at"`
	AssignmentCount int          `json:"assignment_count"`
	AppliedCount    int          `json:"applied_count"`
	AutoApply       bool         `json:"auto_apply"`
	Guardrails      Guardrails   `json:"guardrails"`
	Assignments     []Assignment `json:"assignments"`
	Warnings        []string     `json:"warnings,omitempty"`
}

type StopResult struct {
	OK            bool   `json:"ok"`
	ExperimentID  string `json:"experiment_id"`
	StoppedAt     string `json:"stopped_at"`
	RestoredCount int    `json:"restored_count"`
}

// StartedPayload is the structured payload of a "started" event.
// Experiments are reconstructed from it; there is no experiment table.
type StartedPayload struct {
	ExperimentID string       `json:"experiment_id"`
	Name         string       `json:"name"`
	StartedAt    string       `json:"started_at"`
	AutoApply    bool         `json:"auto_apply"`
	AppliedCount int          `json:"applied_count"`
	Guardrails   Guardrails   `json:"guardrails"`
	Assignments  []Assignment `json:"assignments"`
	PolicyHash   string       `json:"policy_hash,omitempty"`
}

// StoppedPayload is the structured payload of a "stopped" event
type StoppedPayload struct {
	ExperimentID  string `json:"experiment_id"`
	StoppedAt     string `json:"stopped_at"`
	RestoredCount int    `json:"restored_count"`
}

// Experiment is derived from a started record and an optional stopped record
type Experiment struct {
	ID           string       `json:"experiment_id"`
	Name         string       `json:"name"`
	Status       string       `json:"status"`
	StartedAt    string       `json:"started_at"`
	StoppedAt    *string      `json:"stopped_at"`
	AutoApply    bool         `json:"auto_apply"`
	AppliedCount int          `json:"applied_count"`
	Guardrails   Guardrails   `json:"guardrails"`
	Assignments  []Assignment `json:"assignments"`
	PolicyHash   string       `json:"policy_hash,omitempty"`
}

// ExperimentSummary is one row of a listing
type ExperimentSummary struct {
	ID               string  `json:"experiment_id"`
	Name             string  `json:"name"`
	Status           string  `json:"status"`
	StartedAt        string  `json:"started_at"`
	StoppedAt        *string `json:"stopped_at"`
	AssignmentCount  int     `json:"assignment_count"`
	MeanDeltaPercent float64 `json:"mean_delta_percent"`
}

// WindowMetrics aggregates sales over [From, To)
type WindowMetrics struct {
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Units   int64     `json:"units"`
	Revenue float64   `json:"revenue"`
	Orders  int64     `json:"orders"`
}

// Lift holds percentage changes. A nil value means "not computable".
type Lift struct {
	UnitsPercent   *float64 `json:"units_percent"`
	RevenuePercent *float64 `json:"revenue_percent"`
	OrdersPercent  *float64 `json:"orders_percent"`
}

type PerformanceResult struct {
	ExperimentID string        `json:"experiment_id"`
	StartedAt    string        `json:"started_at"`
	StoppedAt    *string       `json:"stopped_at"`
	WindowDays   int           `json:"window_days"`
	Pre          WindowMetrics `json:"pre"`
	Post         WindowMetrics `json:"post"`
	Lift         Lift          `json:"lift"`
}

// Round2 rounds half away from zero to two decimal places
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// FormatTime renders timestamps the way they are stored in event payloads
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

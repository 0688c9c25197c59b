// Package pipeline defines the run record that tracks one end-to-end
// execution of the sourcing pipeline and its status lifecycle.
package pipeline

import (
	"fmt"
	"time"
)

// RunType selects the stage plan a run executes.
type RunType string

const (
	TypeFull           RunType = "full"
	TypeTrendScout     RunType = "trend-scout"
	TypeSupplierSource RunType = "supplier-source"
	TypeAIEnrich       RunType = "ai-enrich"
	TypeCompetitorScan RunType = "competitor-scan"
	TypeAirtableSync   RunType = "airtable-sync"
)

// ValidType reports whether t is a known run type.
func ValidType(t RunType) bool {
	switch t {
	case TypeFull, TypeTrendScout, TypeSupplierSource, TypeAIEnrich, TypeCompetitorScan, TypeAirtableSync:
		return true
	}
	return false
}

// Status is the run lifecycle state. Transitions are forward-only:
// queued -> running -> completed|failed. Terminal states never change.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the run still occupies the single-flight slot.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusRunning
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Trigger records what provoked a run.
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
	TriggerAPI    Trigger = "api"
)

// Results aggregates per-stage counters. Stages accumulate into it as they
// complete; per-item failures are counted, never escalated.
type Results struct {
	ProductsSourced int `json:"products_sourced"`
	ProductsPriced  int `json:"products_priced"`
	EnrichedCount   int `json:"enriched_count"`
	ProductsListed  int `json:"products_listed"`
	ProductsSynced  int `json:"products_synced"`
	PricesAdjusted  int `json:"prices_adjusted"`
	FailedCount     int `json:"failed_count"`
}

// StageError records a stage-level soft failure for provenance.
type StageError struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Run is one pipeline execution. It is exclusively owned by the executor
// that claimed it and is never mutated concurrently.
type Run struct {
	RunID       string       `json:"run_id"`
	Type        RunType      `json:"run_type"`
	Status      Status       `json:"status"`
	TriggeredBy Trigger      `json:"triggered_by"`
	Results     Results      `json:"results"`
	Errors      []StageError `json:"errors,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	StartedAt   time.Time    `json:"started_at,omitempty"`
	CompletedAt time.Time    `json:"completed_at,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
}

// Transition moves the run to next, enforcing forward-only semantics.
// The terminal transition stamps CompletedAt and DurationMS exactly once.
func (r *Run) Transition(next Status, now time.Time) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("illegal run transition %s -> %s", r.Status, next)
	}
	switch next {
	case StatusRunning:
		r.StartedAt = now.UTC()
	case StatusCompleted, StatusFailed:
		r.CompletedAt = now.UTC()
		ref := r.StartedAt
		if ref.IsZero() {
			ref = r.CreatedAt
		}
		r.DurationMS = now.UTC().Sub(ref).Milliseconds()
	}
	r.Status = next
	return nil
}

// RecordError appends a stage-level soft failure.
func (r *Run) RecordError(stage string, err error, now time.Time) {
	r.Errors = append(r.Errors, StageError{Stage: stage, Message: err.Error(), At: now.UTC()})
}

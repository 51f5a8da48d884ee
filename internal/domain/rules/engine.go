// Package rules implements the internal adjudication engine. It prices
// claims against a fixed allowed-amount schedule and memoizes outcomes in a
// fingerprint-keyed cache so identical resubmissions settle without
// recomputation.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clearway/clearway/internal/domain/claims"
)

// ErrRejected is returned when a claim fails structural validation. The
// claim is moved to REJECTED before returning.
var ErrRejected = errors.New("claim rejected by internal rules")

// allowedShare is the fraction of the billed amount the plan covers; the
// remainder is patient responsibility.
const allowedShare = 0.80

// Engine adjudicates claims on the internal path. It implements
// claims.Adjudicator.
type Engine struct {
	repo   claims.Repository
	cache  Cache
	maxAge time.Duration
}

func NewEngine(repo claims.Repository, cache Cache, maxAge time.Duration) *Engine {
	return &Engine{repo: repo, cache: cache, maxAge: maxAge}
}

// ProcessClaim adjudicates the claim synchronously. On success the claim
// lands in COMPLETE with per-line allowed amounts written back. Structural
// failures land the claim in REJECTED and return ErrRejected; unexpected
// failures land it in ERROR and return the cause. The claim row survives in
// every case.
func (e *Engine) ProcessClaim(ctx context.Context, claim *claims.Claim, items []claims.LineItem) (*claims.AdjudicationResult, error) {
	if reason := e.validate(claim, items); reason != "" {
		detail := fmt.Sprintf(`{"outcome":"rejected","reason":%q}`, reason)
		if err := e.repo.RecordOutcome(ctx, claim.ID, claims.StatusRejected, nil, &reason); err != nil {
			return nil, e.fail(ctx, claim.ID, err)
		}
		e.appendEvent(ctx, claim.ID, claims.StatusRejected, &detail)
		return nil, fmt.Errorf("%w: %s", ErrRejected, reason)
	}

	fp := Fingerprint(claim, items)
	result, source, err := e.resolve(ctx, claim.ID, fp, items)
	if err != nil {
		return nil, e.fail(ctx, claim.ID, err)
	}

	if err := e.repo.ApplyAdjudication(ctx, claim.ID, result.Lines); err != nil {
		return nil, e.fail(ctx, claim.ID, err)
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, e.fail(ctx, claim.ID, err)
	}
	payloadStr := string(payload)
	if err := e.repo.RecordOutcome(ctx, claim.ID, claims.StatusComplete, &payloadStr, nil); err != nil {
		return nil, e.fail(ctx, claim.ID, err)
	}
	detail := fmt.Sprintf(`{"outcome":"complete","source":%q,"allowed_total":%.2f}`,
		source, result.AllowedTotal)
	e.appendEvent(ctx, claim.ID, claims.StatusComplete, &detail)
	return result, nil
}

func (e *Engine) validate(claim *claims.Claim, items []claims.LineItem) string {
	if claim.PatientID == uuid.Nil {
		return "missing patient reference"
	}
	if claim.ProviderID == uuid.Nil {
		return "missing provider reference"
	}
	if len(items) == 0 {
		return "claim has no line items"
	}
	for _, li := range items {
		if li.ServiceCode == "" {
			return fmt.Sprintf("line %d is missing a service code", li.Sequence)
		}
		if li.Total < 0 {
			return fmt.Sprintf("line %d has a negative amount", li.Sequence)
		}
	}
	return ""
}

// resolve returns the adjudication result for a fingerprint, preferring a
// fresh cache entry over recomputation. A hit is rebound to the current
// claim ID; a miss (or stale entry) computes and upserts.
func (e *Engine) resolve(ctx context.Context, claimID uuid.UUID, fp string, items []claims.LineItem) (*claims.AdjudicationResult, string, error) {
	entry, err := e.cache.Get(ctx, fp)
	if err == nil && time.Since(entry.UpdatedAt) <= e.maxAge {
		result := entry.Result
		result.ClaimID = claimID
		result.Source = "cache"
		return &result, "cache", nil
	}
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		return nil, "", err
	}

	result := e.compute(claimID, items)
	if err := e.cache.Put(ctx, fp, result); err != nil {
		return nil, "", err
	}
	return result, "computed", nil
}

func (e *Engine) compute(claimID uuid.UUID, items []claims.LineItem) *claims.AdjudicationResult {
	result := &claims.AdjudicationResult{
		ClaimID: claimID,
		Source:  "computed",
		Lines:   make([]claims.LineAdjudication, 0, len(items)),
	}
	for _, li := range items {
		allowed := li.Total * allowedShare
		result.Lines = append(result.Lines, claims.LineAdjudication{
			Sequence:              li.Sequence,
			ServiceCode:           li.ServiceCode,
			BilledAmount:          li.Total,
			AllowedAmount:         allowed,
			PatientResponsibility: li.Total - allowed,
		})
		result.AllowedTotal += allowed
		result.PatientResponsibility += li.Total - allowed
	}
	return result
}

// fail parks the claim in ERROR and returns the original cause.
func (e *Engine) fail(ctx context.Context, claimID uuid.UUID, cause error) error {
	msg := cause.Error()
	_ = e.repo.RecordOutcome(ctx, claimID, claims.StatusError, nil, &msg)
	detail := fmt.Sprintf(`{"outcome":"error","error":%q}`, msg)
	e.appendEvent(ctx, claimID, claims.StatusError, &detail)
	return fmt.Errorf("internal adjudication: %w", cause)
}

func (e *Engine) appendEvent(ctx context.Context, claimID uuid.UUID, st claims.Status, detail *string) {
	_ = e.repo.AppendEvent(ctx, &claims.Event{
		ClaimID: claimID,
		Type:    claims.EventInternalRulesApplied,
		Status:  st,
		Actor:   "rules-engine",
		Detail:  detail,
	})
}

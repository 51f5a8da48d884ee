package forward

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clearway/clearway/internal/domain/claims"
	"github.com/clearway/clearway/internal/domain/payers"
	"github.com/clearway/clearway/internal/platform/scheduler"
)

// Config carries the gateway's timing knobs.
type Config struct {
	// DispatchDelay is the queue-to-send delay for connections that do not
	// support real-time submission.
	DispatchDelay time.Duration
	// StatusCheckInterval is the poll cadence for SENT and ACKNOWLEDGED
	// forwards.
	StatusCheckInterval time.Duration
	// BackoffCap bounds the exponential retry delay.
	BackoffCap time.Duration
	// SweepInterval is the cadence of the durable-state recovery sweep.
	SweepInterval time.Duration
}

// Gateway owns the external submission path. All progress is recorded in
// the forward row before any timer is armed, so the sweep can resume every
// in-flight claim after a restart from next_attempt_at alone.
type Gateway struct {
	repo        Repository
	claims      claims.Repository
	connections payers.Repository
	adapter     PayerAdapter
	sched       *scheduler.Scheduler
	cfg         Config
	log         zerolog.Logger
}

func NewGateway(repo Repository, cr claims.Repository, conns payers.Repository,
	adapter PayerAdapter, sched *scheduler.Scheduler, cfg Config, log zerolog.Logger) *Gateway {
	return &Gateway{
		repo:        repo,
		claims:      cr,
		connections: conns,
		adapter:     adapter,
		sched:       sched,
		cfg:         cfg,
		log:         log.With().Str("component", "payer-gateway").Logger(),
	}
}

// opTimeout bounds timer-driven work, which runs outside any request scope.
const opTimeout = 60 * time.Second

// SubmitClaim opens a forward lineage for the claim and queues the first
// send. A payer without a connection is a configuration fault: the claim
// goes straight to ERROR and no forward row is created. Implements
// claims.Forwarder.
func (g *Gateway) SubmitClaim(ctx context.Context, claimID uuid.UUID) error {
	claim, err := g.claims.GetByID(ctx, claimID)
	if err != nil {
		return err
	}
	if claim.Status.Terminal() {
		return fmt.Errorf("claim %s is already %s", claimID, claim.Status)
	}

	conn, err := g.connections.GetByPayer(ctx, claim.PayerID)
	if errors.Is(err, payers.ErrConnectionNotFound) {
		detail := fmt.Sprintf("no payer connection configured for payer %s", claim.PayerID)
		if rerr := g.claims.RecordOutcome(ctx, claimID, claims.StatusError, nil, &detail); rerr != nil {
			return rerr
		}
		g.appendEvent(ctx, claimID, claims.EventExternalPayerError, claims.StatusError, &detail)
		return fmt.Errorf("submit claim %s: %w", claimID, payers.ErrConnectionNotFound)
	}
	if err != nil {
		return err
	}

	if _, err := g.repo.ActiveByClaim(ctx, claimID); err == nil {
		return ErrActiveForward
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	delay := g.cfg.DispatchDelay
	if conn.SupportsRealTime {
		delay = 0
	}
	next := time.Now().Add(delay)
	fwd := &Forward{
		ClaimID:       claimID,
		ConnectionID:  conn.ID,
		Status:        StatusQueued,
		AttemptCount:  0,
		MaxRetries:    conn.MaxRetries,
		NextAttemptAt: &next,
	}
	if err := g.repo.Create(ctx, fwd); err != nil {
		return err
	}
	if err := g.claims.UpdateStatus(ctx, claimID, claims.StatusSubmitted); err != nil {
		return err
	}
	detail := fmt.Sprintf(`{"forward_id":"%s","connection_id":"%s","dispatch_delay_ms":%d}`,
		fwd.ID, conn.ID, delay.Milliseconds())
	g.appendEvent(ctx, claimID, claims.EventExternalPayerQueued, claims.StatusSubmitted, &detail)

	g.log.Info().Str("claim_id", claimID.String()).Str("forward_id", fwd.ID.String()).
		Dur("delay", delay).Msg("claim queued for payer submission")
	g.scheduleSend(fwd.ID, delay)
	return nil
}

func (g *Gateway) scheduleSend(fwdID uuid.UUID, delay time.Duration) {
	g.sched.Schedule(fwdID, delay, func() { g.sendClaimToPayer(fwdID) })
}

func (g *Gateway) schedulePoll(fwdID uuid.UUID, delay time.Duration) {
	g.sched.Schedule(fwdID, delay, func() { g.checkClaimStatus(fwdID) })
}

// sendClaimToPayer performs one send attempt. It is safe to invoke for a
// forward in any state: the SENDING guard refuses everything that is not
// actually due, so timer fires and sweep re-drives cannot double-send.
func (g *Gateway) sendClaimToPayer(fwdID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	fwd, err := g.repo.GetByID(ctx, fwdID)
	if err != nil {
		g.log.Error().Err(err).Str("forward_id", fwdID.String()).Msg("load forward for send")
		return
	}
	attempt := fwd.AttemptCount + 1
	ok, err := g.repo.Transition(ctx, fwdID, []Status{StatusQueued, StatusFailedRetry},
		StatusSending, Update{AttemptCount: &attempt, ClearNextAttempt: true})
	if err != nil {
		g.log.Error().Err(err).Str("forward_id", fwdID.String()).Msg("transition to SENDING")
		return
	}
	if !ok {
		return
	}

	conn, err := g.connections.GetByID(ctx, fwd.ConnectionID)
	if err != nil {
		g.handleSendFailure(ctx, fwd, attempt, nil, fmt.Errorf("load connection: %w", err))
		return
	}
	payload, err := g.buildPayload(ctx, fwd.ClaimID)
	if err != nil {
		g.handleSendFailure(ctx, fwd, attempt, conn, err)
		return
	}

	result, err := g.submitSafely(ctx, conn, payload)
	if err != nil {
		g.handleSendFailure(ctx, fwd, attempt, conn, err)
		return
	}
	g.handleSendSuccess(ctx, fwd, result)
}

// submitSafely treats an adapter panic as a failed attempt rather than
// letting it kill the timer goroutine.
func (g *Gateway) submitSafely(ctx context.Context, conn *payers.Connection, payload *ClaimPayload) (result *SubmitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("payer adapter panic: %v", r)
		}
	}()
	return g.adapter.Submit(ctx, conn, payload)
}

func (g *Gateway) checkSafely(ctx context.Context, conn *payers.Connection, ref string) (result *StatusResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("payer adapter panic: %v", r)
		}
	}()
	return g.adapter.CheckStatus(ctx, conn, ref)
}

func (g *Gateway) buildPayload(ctx context.Context, claimID uuid.UUID) (*ClaimPayload, error) {
	claim, err := g.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	items, err := g.claims.LineItems(ctx, claimID)
	if err != nil {
		return nil, err
	}
	payload := &ClaimPayload{
		ClaimID:     claim.ID,
		PatientID:   claim.PatientID,
		ProviderID:  claim.ProviderID,
		PayerID:     claim.PayerID,
		ClaimType:   claim.ClaimType,
		TotalAmount: claim.TotalAmount,
		SubmittedAt: claim.SubmittedAt,
	}
	for _, li := range items {
		payload.LineItems = append(payload.LineItems, LineItemPayload{
			Sequence:    li.Sequence,
			ServiceCode: li.ServiceCode,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Total:       li.Total,
		})
	}
	return payload, nil
}

func (g *Gateway) handleSendSuccess(ctx context.Context, fwd *Forward, result *SubmitResult) {
	pollAt := time.Now().Add(g.cfg.StatusCheckInterval)
	to := StatusSent
	if result.Acknowledged {
		to = StatusAcknowledged
	}
	ok, err := g.repo.Transition(ctx, fwd.ID, []Status{StatusSending}, to, Update{
		NextAttemptAt:   &pollAt,
		ExternalRef:     &result.ExternalRef,
		ResponsePayload: &result.RawResponse,
		MarkSent:        true,
	})
	if err != nil || !ok {
		g.log.Error().Err(err).Bool("guarded", ok).
			Str("forward_id", fwd.ID.String()).Msg("record send success")
		return
	}
	if err := g.claims.UpdateStatus(ctx, fwd.ClaimID, claims.StatusPending); err != nil {
		g.log.Error().Err(err).Str("claim_id", fwd.ClaimID.String()).Msg("mark claim pending")
	}
	detail := fmt.Sprintf(`{"external_ref":%q}`, result.ExternalRef)
	g.appendEvent(ctx, fwd.ClaimID, claims.EventExternalPayerSent, claims.StatusPending, &detail)
	if result.Acknowledged {
		g.appendEvent(ctx, fwd.ClaimID, claims.EventExternalPayerAcked, claims.StatusPending, &detail)
	}
	g.log.Info().Str("forward_id", fwd.ID.String()).Str("external_ref", result.ExternalRef).
		Bool("acknowledged", result.Acknowledged).Msg("claim sent to payer")
	g.schedulePoll(fwd.ID, g.cfg.StatusCheckInterval)
}

func (g *Gateway) handleSendFailure(ctx context.Context, fwd *Forward, attempt int, conn *payers.Connection, cause error) {
	msg := cause.Error()
	if attempt < fwd.MaxRetries {
		base := 5 * time.Second
		if conn != nil {
			base = conn.RetryInterval()
		}
		delay := g.backoffDelay(base, attempt)
		next := time.Now().Add(delay)
		ok, err := g.repo.Transition(ctx, fwd.ID, []Status{StatusSending}, StatusFailedRetry,
			Update{NextAttemptAt: &next, LastError: &msg})
		if err != nil || !ok {
			g.log.Error().Err(err).Bool("guarded", ok).
				Str("forward_id", fwd.ID.String()).Msg("record send failure")
			return
		}
		detail := fmt.Sprintf(`{"attempt":%d,"max_retries":%d,"retry_in_ms":%d,"error":%q}`,
			attempt, fwd.MaxRetries, delay.Milliseconds(), msg)
		g.appendEvent(ctx, fwd.ClaimID, claims.EventExternalPayerRetry, claims.StatusSubmitted, &detail)
		g.log.Warn().Str("forward_id", fwd.ID.String()).Int("attempt", attempt).
			Dur("retry_in", delay).Str("error", msg).Msg("send attempt failed, retry scheduled")
		g.scheduleSend(fwd.ID, delay)
		return
	}

	ok, err := g.repo.Transition(ctx, fwd.ID, []Status{StatusSending}, StatusFailed,
		Update{ClearNextAttempt: true, LastError: &msg})
	if err != nil || !ok {
		g.log.Error().Err(err).Bool("guarded", ok).
			Str("forward_id", fwd.ID.String()).Msg("record terminal failure")
		return
	}
	outcome := fmt.Sprintf("all %d send attempts failed: %s", fwd.MaxRetries, msg)
	if err := g.claims.RecordOutcome(ctx, fwd.ClaimID, claims.StatusFailed, nil, &outcome); err != nil {
		g.log.Error().Err(err).Str("claim_id", fwd.ClaimID.String()).Msg("mark claim failed")
	}
	detail := fmt.Sprintf(`{"attempts":%d,"error":%q}`, attempt, msg)
	g.appendEvent(ctx, fwd.ClaimID, claims.EventExternalPayerFailed, claims.StatusFailed, &detail)
	g.log.Error().Str("forward_id", fwd.ID.String()).Int("attempts", attempt).
		Str("error", msg).Msg("claim submission exhausted retries")
}

// backoffDelay grows the base retry interval by 1.5x per completed attempt,
// capped by config.
func (g *Gateway) backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(1.5, float64(attempt-1)))
	if d > g.cfg.BackoffCap {
		return g.cfg.BackoffCap
	}
	return d
}

// checkClaimStatus polls the payer for a SENT or ACKNOWLEDGED forward. Poll
// transport errors are not failures of the claim; they only push the next
// poll out.
func (g *Gateway) checkClaimStatus(fwdID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	fwd, err := g.repo.GetByID(ctx, fwdID)
	if err != nil {
		g.log.Error().Err(err).Str("forward_id", fwdID.String()).Msg("load forward for poll")
		return
	}
	if fwd.Status != StatusSent && fwd.Status != StatusAcknowledged {
		return
	}
	if fwd.ExternalRef == nil {
		g.log.Error().Str("forward_id", fwdID.String()).Msg("forward has no external ref")
		return
	}

	conn, err := g.connections.GetByID(ctx, fwd.ConnectionID)
	if err != nil {
		g.rescheduleCheck(ctx, fwd)
		return
	}
	result, err := g.checkSafely(ctx, conn, *fwd.ExternalRef)
	if err != nil {
		g.log.Warn().Err(err).Str("forward_id", fwdID.String()).Msg("status poll failed")
		g.rescheduleCheck(ctx, fwd)
		return
	}

	switch result.Disposition {
	case DispositionCompleted:
		g.finishForward(ctx, fwd, StatusCompleted, claims.StatusComplete,
			claims.EventExternalPayerCompleted, result.RawResponse, nil)
	case DispositionRejected:
		reason := "claim rejected by payer"
		g.finishForward(ctx, fwd, StatusRejected, claims.StatusRejected,
			claims.EventExternalPayerRejected, result.RawResponse, &reason)
	case DispositionAcknowledged:
		if fwd.Status == StatusSent {
			pollAt := time.Now().Add(g.cfg.StatusCheckInterval)
			ok, err := g.repo.Transition(ctx, fwd.ID, []Status{StatusSent}, StatusAcknowledged,
				Update{NextAttemptAt: &pollAt, ResponsePayload: &result.RawResponse})
			if err == nil && ok {
				detail := fmt.Sprintf(`{"external_ref":%q}`, *fwd.ExternalRef)
				g.appendEvent(ctx, fwd.ClaimID, claims.EventExternalPayerAcked, claims.StatusPending, &detail)
			}
			g.schedulePoll(fwd.ID, g.cfg.StatusCheckInterval)
			return
		}
		g.rescheduleCheck(ctx, fwd)
	default:
		g.rescheduleCheck(ctx, fwd)
	}
}

func (g *Gateway) rescheduleCheck(ctx context.Context, fwd *Forward) {
	pollAt := time.Now().Add(g.cfg.StatusCheckInterval)
	if _, err := g.repo.Transition(ctx, fwd.ID, []Status{fwd.Status}, fwd.Status,
		Update{NextAttemptAt: &pollAt}); err != nil {
		g.log.Error().Err(err).Str("forward_id", fwd.ID.String()).Msg("push poll deadline")
	}
	g.schedulePoll(fwd.ID, g.cfg.StatusCheckInterval)
}

func (g *Gateway) finishForward(ctx context.Context, fwd *Forward, to Status,
	claimStatus claims.Status, eventType claims.EventType, rawResponse string, errDetail *string) {
	ok, err := g.repo.Transition(ctx, fwd.ID, []Status{StatusSent, StatusAcknowledged}, to,
		Update{ClearNextAttempt: true, ResponsePayload: &rawResponse, MarkCompleted: true})
	if err != nil || !ok {
		g.log.Error().Err(err).Bool("guarded", ok).
			Str("forward_id", fwd.ID.String()).Msg("record payer outcome")
		return
	}
	if err := g.claims.RecordOutcome(ctx, fwd.ClaimID, claimStatus, &rawResponse, errDetail); err != nil {
		g.log.Error().Err(err).Str("claim_id", fwd.ClaimID.String()).Msg("record claim outcome")
	}
	detail := fmt.Sprintf(`{"forward_status":%q}`, to)
	g.appendEvent(ctx, fwd.ClaimID, eventType, claimStatus, &detail)
	g.log.Info().Str("forward_id", fwd.ID.String()).Str("outcome", string(to)).
		Msg("claim settled by payer")
}

// sweepBatch bounds how much work one sweep pass picks up.
const sweepBatch = 100

// ProcessPendingForwards re-derives due work from durable state. It backs
// both crash recovery at startup and the periodic safety-net sweep; work
// already held by an in-memory timer is skipped.
func (g *Gateway) ProcessPendingForwards(ctx context.Context) (int, error) {
	now := time.Now()
	scheduled := 0

	due, err := g.repo.DuePending(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	for _, f := range due {
		if g.sched.Pending(f.ID) {
			continue
		}
		g.scheduleSend(f.ID, 0)
		scheduled++
	}

	polls, err := g.repo.AwaitingStatusCheck(ctx, now, sweepBatch)
	if err != nil {
		return scheduled, err
	}
	for _, f := range polls {
		if g.sched.Pending(f.ID) {
			continue
		}
		g.schedulePoll(f.ID, 0)
		scheduled++
	}

	if scheduled > 0 {
		g.log.Info().Int("scheduled", scheduled).Msg("sweep re-scheduled pending forwards")
	}
	return scheduled, nil
}

// Start runs the recovery sweep immediately and then on every sweep tick
// until ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) {
	if _, err := g.ProcessPendingForwards(ctx); err != nil {
		g.log.Error().Err(err).Msg("startup sweep")
	}
	ticker := time.NewTicker(g.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := g.ProcessPendingForwards(ctx); err != nil {
				g.log.Error().Err(err).Msg("periodic sweep")
			}
		}
	}
}

// Shutdown drops all armed timers. Durable next_attempt_at state makes the
// work recoverable on the next start.
func (g *Gateway) Shutdown() {
	g.sched.Clear()
}

func (g *Gateway) appendEvent(ctx context.Context, claimID uuid.UUID, t claims.EventType, st claims.Status, detail *string) {
	if err := g.claims.AppendEvent(ctx, &claims.Event{
		ClaimID: claimID,
		Type:    t,
		Status:  st,
		Actor:   "payer-gateway",
		Detail:  detail,
	}); err != nil {
		g.log.Error().Err(err).Str("claim_id", claimID.String()).
			Str("event", string(t)).Msg("append claim event")
	}
}

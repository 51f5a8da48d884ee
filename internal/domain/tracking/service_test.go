package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clearway/clearway/internal/domain/claims"
	"github.com/clearway/clearway/internal/domain/forward"
	"github.com/clearway/clearway/pkg/pagination"
)

// -- Mocks --

type mockClaimRepo struct {
	claims map[uuid.UUID]*claims.Claim
	events map[uuid.UUID][]claims.Event
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{
		claims: make(map[uuid.UUID]*claims.Claim),
		events: make(map[uuid.UUID][]claims.Event),
	}
}

func (m *mockClaimRepo) Create(_ context.Context, c *claims.Claim, _ []claims.LineItem) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.claims[c.ID] = c
	return nil
}

func (m *mockClaimRepo) GetByID(_ context.Context, id uuid.UUID) (*claims.Claim, error) {
	c, ok := m.claims[id]
	if !ok {
		return nil, claims.ErrNotFound
	}
	return c, nil
}

func (m *mockClaimRepo) List(_ context.Context, f claims.SearchFilter, _ pagination.Params) ([]claims.Claim, int, error) {
	var out []claims.Claim
	for _, c := range m.claims {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *mockClaimRepo) UpdateStatus(_ context.Context, id uuid.UUID, status claims.Status) error {
	m.claims[id].Status = status
	return nil
}

func (m *mockClaimRepo) RecordOutcome(_ context.Context, id uuid.UUID, status claims.Status, payload, errDetail *string) error {
	m.claims[id].Status = status
	return nil
}

func (m *mockClaimRepo) LineItems(_ context.Context, _ uuid.UUID) ([]claims.LineItem, error) {
	return nil, nil
}

func (m *mockClaimRepo) AddLineItems(_ context.Context, _ uuid.UUID, _ []claims.LineItem, _ float64) error {
	return nil
}

func (m *mockClaimRepo) ApplyAdjudication(_ context.Context, _ uuid.UUID, _ []claims.LineAdjudication) error {
	return nil
}

func (m *mockClaimRepo) AppendEvent(_ context.Context, ev *claims.Event) error {
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now()
	m.events[ev.ClaimID] = append(m.events[ev.ClaimID], *ev)
	return nil
}

func (m *mockClaimRepo) Events(_ context.Context, claimID uuid.UUID) ([]claims.Event, error) {
	return m.events[claimID], nil
}

func (m *mockClaimRepo) LatestEvent(_ context.Context, claimID uuid.UUID) (*claims.Event, error) {
	evs := m.events[claimID]
	if len(evs) == 0 {
		return nil, claims.ErrNotFound
	}
	return &evs[len(evs)-1], nil
}

func (m *mockClaimRepo) ListNeedingAttention(_ context.Context, staleBefore time.Time, _ pagination.Params) ([]claims.Claim, int, error) {
	var out []claims.Claim
	for _, c := range m.claims {
		switch {
		case c.Status == claims.StatusError || c.Status == claims.StatusRejected:
			out = append(out, *c)
		case (c.Status == claims.StatusSubmitted || c.Status == claims.StatusPending) &&
			c.StatusUpdatedAt.Before(staleBefore):
			out = append(out, *c)
		}
	}
	return out, len(out), nil
}

func (m *mockClaimRepo) Statistics(_ context.Context, staleBefore time.Time) (*claims.Statistics, error) {
	st := &claims.Statistics{
		ByStatus: map[string]int{},
		ByPath:   map[string]int{},
		ByPayer:  map[string]int{},
	}
	for _, c := range m.claims {
		st.ByStatus[string(c.Status)]++
		st.ByPath[string(c.ProcessingPath)]++
		st.ByPayer[c.PayerID.String()]++
		st.Total++
		if c.Status == claims.StatusError {
			st.Errors++
		}
		if (c.Status == claims.StatusSubmitted || c.Status == claims.StatusPending) &&
			c.StatusUpdatedAt.Before(staleBefore) {
			st.Stalled++
		}
	}
	return st, nil
}

type mockForwardRepo struct {
	forwards map[uuid.UUID]*forward.Forward
}

func newMockForwardRepo() *mockForwardRepo {
	return &mockForwardRepo{forwards: make(map[uuid.UUID]*forward.Forward)}
}

func (m *mockForwardRepo) Create(_ context.Context, f *forward.Forward) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now()
	m.forwards[f.ID] = f
	return nil
}

func (m *mockForwardRepo) GetByID(_ context.Context, id uuid.UUID) (*forward.Forward, error) {
	f, ok := m.forwards[id]
	if !ok {
		return nil, forward.ErrNotFound
	}
	return f, nil
}

func (m *mockForwardRepo) ListByClaim(_ context.Context, claimID uuid.UUID) ([]forward.Forward, error) {
	var out []forward.Forward
	for _, f := range m.forwards {
		if f.ClaimID == claimID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *mockForwardRepo) LatestByClaim(_ context.Context, claimID uuid.UUID) (*forward.Forward, error) {
	var latest *forward.Forward
	for _, f := range m.forwards {
		if f.ClaimID == claimID && (latest == nil || f.CreatedAt.After(latest.CreatedAt)) {
			latest = f
		}
	}
	if latest == nil {
		return nil, forward.ErrNotFound
	}
	return latest, nil
}

func (m *mockForwardRepo) ActiveByClaim(_ context.Context, claimID uuid.UUID) (*forward.Forward, error) {
	for _, f := range m.forwards {
		if f.ClaimID == claimID && !f.Status.Terminal() {
			return f, nil
		}
	}
	return nil, forward.ErrNotFound
}

func (m *mockForwardRepo) Transition(_ context.Context, id uuid.UUID, from []forward.Status, to forward.Status, _ forward.Update) (bool, error) {
	return false, nil
}

func (m *mockForwardRepo) DuePending(_ context.Context, _ time.Time, _ int) ([]forward.Forward, error) {
	return nil, nil
}

func (m *mockForwardRepo) AwaitingStatusCheck(_ context.Context, _ time.Time, _ int) ([]forward.Forward, error) {
	return nil, nil
}

// -- Tests --

func stage(t *testing.T) (*Service, *mockClaimRepo, *mockForwardRepo) {
	t.Helper()
	cr := newMockClaimRepo()
	fr := newMockForwardRepo()
	return NewService(cr, fr, 24*time.Hour), cr, fr
}

func TestGetClaimStatusInternalClaim(t *testing.T) {
	svc, cr, _ := stage(t)

	c := &claims.Claim{Status: claims.StatusComplete, ProcessingPath: claims.PathInternal}
	cr.Create(context.Background(), c, nil)
	cr.AppendEvent(context.Background(), &claims.Event{
		ClaimID: c.ID, Type: claims.EventInternalRulesApplied, Status: claims.StatusComplete, Actor: "rules-engine",
	})

	view, err := svc.GetClaimStatus(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetClaimStatus: %v", err)
	}
	if view.Claim.ID != c.ID {
		t.Error("view must carry the claim")
	}
	if view.LatestEvent == nil || view.LatestEvent.Type != claims.EventInternalRulesApplied {
		t.Errorf("expected latest rules event, got %+v", view.LatestEvent)
	}
	if view.Forward != nil {
		t.Error("internal claim must have no forward summary")
	}
}

func TestGetClaimStatusExternalClaim(t *testing.T) {
	svc, cr, fr := stage(t)

	c := &claims.Claim{Status: claims.StatusPending, ProcessingPath: claims.PathExternal}
	cr.Create(context.Background(), c, nil)
	ref := "REF-1"
	fr.Create(context.Background(), &forward.Forward{
		ClaimID:      c.ID,
		Status:       forward.StatusSent,
		AttemptCount: 2,
		MaxRetries:   3,
		ExternalRef:  &ref,
	})

	view, err := svc.GetClaimStatus(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("GetClaimStatus: %v", err)
	}
	if view.Forward == nil {
		t.Fatal("external claim must carry a forward summary")
	}
	if view.Forward.Status != forward.StatusSent {
		t.Errorf("expected SENT, got %s", view.Forward.Status)
	}
	if view.Forward.ImpliedStatus != claims.StatusPending {
		t.Errorf("SENT must imply PENDING, got %s", view.Forward.ImpliedStatus)
	}
	if view.Forward.AttemptCount != 2 {
		t.Errorf("expected attempt count 2, got %d", view.Forward.AttemptCount)
	}
}

func TestGetClaimStatusUnknownClaim(t *testing.T) {
	svc, _, _ := stage(t)
	if _, err := svc.GetClaimStatus(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestGetClaimsNeedingAttention(t *testing.T) {
	svc, cr, _ := stage(t)

	fresh := time.Now()
	stale := time.Now().Add(-48 * time.Hour)

	cr.Create(context.Background(), &claims.Claim{Status: claims.StatusError, StatusUpdatedAt: fresh}, nil)
	cr.Create(context.Background(), &claims.Claim{Status: claims.StatusRejected, StatusUpdatedAt: fresh}, nil)
	cr.Create(context.Background(), &claims.Claim{Status: claims.StatusPending, StatusUpdatedAt: stale}, nil)
	// Healthy claims that must not show up.
	cr.Create(context.Background(), &claims.Claim{Status: claims.StatusPending, StatusUpdatedAt: fresh}, nil)
	cr.Create(context.Background(), &claims.Claim{Status: claims.StatusComplete, StatusUpdatedAt: stale}, nil)

	items, total, err := svc.GetClaimsNeedingAttention(context.Background(), pagination.Params{Limit: 20})
	if err != nil {
		t.Fatalf("GetClaimsNeedingAttention: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Errorf("expected 3 claims needing attention, got %d", total)
	}
}

func TestGetClaimStatistics(t *testing.T) {
	svc, cr, _ := stage(t)

	payer := uuid.New()
	cr.Create(context.Background(), &claims.Claim{
		Status: claims.StatusComplete, ProcessingPath: claims.PathInternal, PayerID: payer, StatusUpdatedAt: time.Now(),
	}, nil)
	cr.Create(context.Background(), &claims.Claim{
		Status: claims.StatusError, ProcessingPath: claims.PathExternal, PayerID: payer, StatusUpdatedAt: time.Now(),
	}, nil)

	st, err := svc.GetClaimStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetClaimStatistics: %v", err)
	}
	if st.Total != 2 {
		t.Errorf("expected total 2, got %d", st.Total)
	}
	if st.ByStatus["COMPLETE"] != 1 || st.ByStatus["ERROR"] != 1 {
		t.Errorf("unexpected status counts: %+v", st.ByStatus)
	}
	if st.Errors != 1 {
		t.Errorf("expected 1 error claim, got %d", st.Errors)
	}
}

func TestGetClaimsByStatus(t *testing.T) {
	svc, cr, _ := stage(t)
	cr.Create(context.Background(), &claims.Claim{Status: claims.StatusPending}, nil)
	cr.Create(context.Background(), &claims.Claim{Status: claims.StatusComplete}, nil)

	items, total, err := svc.GetClaimsByStatus(context.Background(), claims.StatusPending, pagination.Params{Limit: 20})
	if err != nil {
		t.Fatalf("GetClaimsByStatus: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].Status != claims.StatusPending {
		t.Errorf("expected one PENDING claim, got %d", total)
	}
}

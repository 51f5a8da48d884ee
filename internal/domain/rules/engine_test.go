package rules

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clearway/clearway/internal/domain/claims"
	"github.com/clearway/clearway/pkg/pagination"
)

// -- Mocks --

type mockClaimRepo struct {
	claims map[uuid.UUID]*claims.Claim
	events map[uuid.UUID][]claims.Event
	adj    map[uuid.UUID][]claims.LineAdjudication
}

func newMockClaimRepo() *mockClaimRepo {
	return &mockClaimRepo{
		claims: make(map[uuid.UUID]*claims.Claim),
		events: make(map[uuid.UUID][]claims.Event),
		adj:    make(map[uuid.UUID][]claims.LineAdjudication),
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

func (m *mockClaimRepo) List(_ context.Context, _ claims.SearchFilter, _ pagination.Params) ([]claims.Claim, int, error) {
	return nil, 0, nil
}

func (m *mockClaimRepo) UpdateStatus(_ context.Context, id uuid.UUID, status claims.Status) error {
	c, ok := m.claims[id]
	if !ok {
		return claims.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *mockClaimRepo) RecordOutcome(_ context.Context, id uuid.UUID, status claims.Status, payload, errDetail *string) error {
	c, ok := m.claims[id]
	if !ok {
		return claims.ErrNotFound
	}
	c.Status = status
	c.ResponsePayload = payload
	c.ErrorDetail = errDetail
	return nil
}

func (m *mockClaimRepo) LineItems(_ context.Context, _ uuid.UUID) ([]claims.LineItem, error) {
	return nil, nil
}

func (m *mockClaimRepo) AddLineItems(_ context.Context, _ uuid.UUID, _ []claims.LineItem, _ float64) error {
	return nil
}

func (m *mockClaimRepo) ApplyAdjudication(_ context.Context, claimID uuid.UUID, lines []claims.LineAdjudication) error {
	m.adj[claimID] = lines
	return nil
}

func (m *mockClaimRepo) AppendEvent(_ context.Context, ev *claims.Event) error {
	ev.ID = uuid.New()
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

func (m *mockClaimRepo) ListNeedingAttention(_ context.Context, _ time.Time, _ pagination.Params) ([]claims.Claim, int, error) {
	return nil, 0, nil
}

func (m *mockClaimRepo) Statistics(_ context.Context, _ time.Time) (*claims.Statistics, error) {
	return &claims.Statistics{}, nil
}

type mockCache struct {
	entries map[string]*CacheEntry
	puts    int
	gets    int
	getErr  error
	putErr  error
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*CacheEntry)}
}

func (m *mockCache) Get(_ context.Context, fp string) (*CacheEntry, error) {
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[fp]
	if !ok {
		return nil, ErrCacheMiss
	}
	return e, nil
}

func (m *mockCache) Put(_ context.Context, fp string, result *claims.AdjudicationResult) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[fp] = &CacheEntry{Fingerprint: fp, Result: *result, UpdatedAt: time.Now()}
	return nil
}

func stageClaim(repo *mockClaimRepo) (*claims.Claim, []claims.LineItem) {
	c := &claims.Claim{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		ProviderID: uuid.New(),
		PayerID:    uuid.New(),
		ClaimType:  "professional",
		Status:     claims.StatusReceived,
	}
	repo.claims[c.ID] = c
	items := []claims.LineItem{
		{Sequence: 1, ServiceCode: "99213", Total: 150},
		{Sequence: 2, ServiceCode: "85025", Total: 50},
	}
	return c, items
}

// -- Tests --

func TestProcessClaimComputesAndCompletes(t *testing.T) {
	repo := newMockClaimRepo()
	cache := newMockCache()
	engine := NewEngine(repo, cache, time.Hour)
	c, items := stageClaim(repo)

	result, err := engine.ProcessClaim(context.Background(), c, items)
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}
	if result.Source != "computed" {
		t.Errorf("expected computed source, got %s", result.Source)
	}
	if math.Abs(result.AllowedTotal-160) > 0.001 {
		t.Errorf("expected allowed total 160, got %.2f", result.AllowedTotal)
	}
	if math.Abs(result.PatientResponsibility-40) > 0.001 {
		t.Errorf("expected patient responsibility 40, got %.2f", result.PatientResponsibility)
	}
	if repo.claims[c.ID].Status != claims.StatusComplete {
		t.Errorf("expected COMPLETE, got %s", repo.claims[c.ID].Status)
	}
	if len(repo.adj[c.ID]) != 2 {
		t.Errorf("expected 2 adjudicated lines, got %d", len(repo.adj[c.ID]))
	}
	if cache.puts != 1 {
		t.Errorf("expected 1 cache write, got %d", cache.puts)
	}
	evs := repo.events[c.ID]
	if len(evs) != 1 || evs[0].Type != claims.EventInternalRulesApplied {
		t.Fatalf("expected one INTERNAL_RULES_APPLIED event, got %+v", evs)
	}
}

func TestProcessClaimCacheHitSkipsRecompute(t *testing.T) {
	repo := newMockClaimRepo()
	cache := newMockCache()
	engine := NewEngine(repo, cache, time.Hour)

	c1, items := stageClaim(repo)
	if _, err := engine.ProcessClaim(context.Background(), c1, items); err != nil {
		t.Fatalf("first ProcessClaim: %v", err)
	}

	// Identical claim from the same parties resubmitted later.
	c2 := &claims.Claim{
		ID:         uuid.New(),
		PatientID:  c1.PatientID,
		ProviderID: c1.ProviderID,
		PayerID:    c1.PayerID,
		ClaimType:  c1.ClaimType,
		Status:     claims.StatusReceived,
	}
	repo.claims[c2.ID] = c2

	result, err := engine.ProcessClaim(context.Background(), c2, items)
	if err != nil {
		t.Fatalf("second ProcessClaim: %v", err)
	}
	if result.Source != "cache" {
		t.Errorf("expected cache source, got %s", result.Source)
	}
	if result.ClaimID != c2.ID {
		t.Errorf("cached result must be rebound to the new claim, got %s", result.ClaimID)
	}
	if cache.puts != 1 {
		t.Errorf("cache hit must not rewrite the entry, got %d puts", cache.puts)
	}
	if repo.claims[c2.ID].Status != claims.StatusComplete {
		t.Errorf("expected COMPLETE, got %s", repo.claims[c2.ID].Status)
	}
}

func TestProcessClaimStaleCacheRecomputes(t *testing.T) {
	repo := newMockClaimRepo()
	cache := newMockCache()
	engine := NewEngine(repo, cache, time.Hour)
	c, items := stageClaim(repo)

	fp := Fingerprint(c, items)
	cache.entries[fp] = &CacheEntry{
		Fingerprint: fp,
		Result:      claims.AdjudicationResult{AllowedTotal: 999},
		UpdatedAt:   time.Now().Add(-2 * time.Hour),
	}

	result, err := engine.ProcessClaim(context.Background(), c, items)
	if err != nil {
		t.Fatalf("ProcessClaim: %v", err)
	}
	if result.Source != "computed" {
		t.Errorf("stale entry must be recomputed, got source %s", result.Source)
	}
	if cache.puts != 1 {
		t.Errorf("recompute must refresh the cache, got %d puts", cache.puts)
	}
}

func TestProcessClaimChangedLinesBypassCache(t *testing.T) {
	repo := newMockClaimRepo()
	cache := newMockCache()
	engine := NewEngine(repo, cache, time.Hour)

	c1, items := stageClaim(repo)
	if _, err := engine.ProcessClaim(context.Background(), c1, items); err != nil {
		t.Fatalf("first ProcessClaim: %v", err)
	}

	c2, _ := stageClaim(repo)
	c2.PatientID = c1.PatientID
	c2.ProviderID = c1.ProviderID
	c2.PayerID = c1.PayerID
	changed := []claims.LineItem{{Sequence: 1, ServiceCode: "99215", Total: 300}}

	result, err := engine.ProcessClaim(context.Background(), c2, changed)
	if err != nil {
		t.Fatalf("second ProcessClaim: %v", err)
	}
	if result.Source != "cache" {
		// Different lines hash differently, so this must be a miss.
		if cache.puts != 2 {
			t.Errorf("expected a second cache write, got %d", cache.puts)
		}
	} else {
		t.Error("changed line items must not hit the cache")
	}
}

func TestProcessClaimStructuralRejection(t *testing.T) {
	repo := newMockClaimRepo()
	cache := newMockCache()
	engine := NewEngine(repo, cache, time.Hour)

	c, _ := stageClaim(repo)
	_, err := engine.ProcessClaim(context.Background(), c, nil)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if repo.claims[c.ID].Status != claims.StatusRejected {
		t.Errorf("expected REJECTED, got %s", repo.claims[c.ID].Status)
	}
	if cache.puts != 0 {
		t.Error("rejected claims must not be cached")
	}
	if cache.gets != 0 {
		t.Error("validation must run before any cache lookup")
	}
	evs := repo.events[c.ID]
	if len(evs) != 1 || evs[0].Status != claims.StatusRejected {
		t.Errorf("expected one rejection event, got %+v", evs)
	}
}

func TestProcessClaimCacheFailureParksInError(t *testing.T) {
	repo := newMockClaimRepo()
	cache := newMockCache()
	cache.getErr = fmt.Errorf("cache store down")
	engine := NewEngine(repo, cache, time.Hour)

	c, items := stageClaim(repo)
	_, err := engine.ProcessClaim(context.Background(), c, items)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRejected) {
		t.Fatal("infrastructure failure must not look like a rejection")
	}
	if repo.claims[c.ID].Status != claims.StatusError {
		t.Errorf("expected ERROR, got %s", repo.claims[c.ID].Status)
	}
	if repo.claims[c.ID].ErrorDetail == nil {
		t.Error("error detail must be recorded")
	}
}

package rules

import (
	"testing"

	"github.com/google/uuid"

	"github.com/clearway/clearway/internal/domain/claims"
)

func testClaim() *claims.Claim {
	return &claims.Claim{
		PatientID:  uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ProviderID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		PayerID:    uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		ClaimType:  "professional",
	}
}

func TestFingerprintStable(t *testing.T) {
	c := testClaim()
	items := []claims.LineItem{
		{Sequence: 1, ServiceCode: "99213", Total: 150},
		{Sequence: 2, ServiceCode: "85025", Total: 50},
	}
	if Fingerprint(c, items) != Fingerprint(c, items) {
		t.Error("same inputs must hash identically")
	}
}

func TestFingerprintIgnoresLineOrder(t *testing.T) {
	c := testClaim()
	a := []claims.LineItem{
		{Sequence: 1, ServiceCode: "99213", Total: 150},
		{Sequence: 2, ServiceCode: "85025", Total: 50},
	}
	b := []claims.LineItem{
		{Sequence: 1, ServiceCode: "85025", Total: 50},
		{Sequence: 2, ServiceCode: "99213", Total: 150},
	}
	if Fingerprint(c, a) != Fingerprint(c, b) {
		t.Error("line order must not change the fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	c := testClaim()
	items := []claims.LineItem{{Sequence: 1, ServiceCode: "99213", Total: 150}}
	base := Fingerprint(c, items)

	changedAmount := []claims.LineItem{{Sequence: 1, ServiceCode: "99213", Total: 151}}
	if Fingerprint(c, changedAmount) == base {
		t.Error("amount change must change the fingerprint")
	}

	other := testClaim()
	other.PatientID = uuid.New()
	if Fingerprint(other, items) == base {
		t.Error("patient change must change the fingerprint")
	}

	other2 := testClaim()
	other2.ClaimType = "institutional"
	if Fingerprint(other2, items) == base {
		t.Error("claim type change must change the fingerprint")
	}
}

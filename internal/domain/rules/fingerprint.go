package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/clearway/clearway/internal/domain/claims"
)

// Fingerprint derives a stable identity for a claim's adjudication inputs.
// Two claims with the same parties, type and billed lines hash identically,
// so a cached result can be replayed without re-running the rules. Line
// order does not affect the hash.
func Fingerprint(c *claims.Claim, items []claims.LineItem) string {
	lines := make([]string, 0, len(items))
	for _, li := range items {
		lines = append(lines, fmt.Sprintf("%s:%.2f", li.ServiceCode, li.Total))
	}
	sort.Strings(lines)

	var b strings.Builder
	b.WriteString(c.ClaimType)
	b.WriteByte('|')
	b.WriteString(c.PayerID.String())
	b.WriteByte('|')
	b.WriteString(c.ProviderID.String())
	b.WriteByte('|')
	b.WriteString(c.PatientID.String())
	b.WriteByte('|')
	b.WriteString(strings.Join(lines, ","))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

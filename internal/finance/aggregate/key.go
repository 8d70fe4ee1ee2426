package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"fecsync/internal/finance/models"
	textutil "fecsync/pkg/platform/strings"
)

// IdentityKey derives the donor identity key of t. Individuals are keyed by
// name, city, state, zip5, committee and cycle; every other entity type by
// name, state, committee and cycle. Distinct donors that normalize to the
// same fields share a key and are merged.
func IdentityKey(t models.Transaction) string {
	name := textutil.NormalizeName(t.ContributorName)
	state := textutil.NormalizeCode(t.State)
	committee := textutil.NormalizeCode(t.CommitteeID)
	cycle := strconv.Itoa(t.Cycle)

	var fields []string
	if t.Individual() {
		fields = []string{
			name,
			textutil.NormalizeName(t.City),
			state,
			textutil.ZipPrefix(t.Zip),
			committee,
			cycle,
		}
	} else {
		fields = []string{name, state, committee, cycle}
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

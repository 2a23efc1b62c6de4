package quote

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	referencePrefix = "BK-"
	suffixLen       = 7
)

// GenerateMerchantReference returns "BK-<unix millis>-<7 base36 chars>",
// upper-cased. The suffix comes from a random UUID. Nothing checks the
// result against earlier orders; the ledger rejects duplicates on insert.
func GenerateMerchantReference() string {
	return newReference(time.Now())
}

func newReference(now time.Time) string {
	id := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(id[:8]), 36)
	if len(suffix) < suffixLen {
		suffix = strings.Repeat("0", suffixLen-len(suffix)) + suffix
	}
	suffix = suffix[len(suffix)-suffixLen:]
	return strings.ToUpper(referencePrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix)
}

package database

import (
	"encoding/hex"
	"slices"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/nao1215/proxyprobe/internal/model"
)

// InputDigest returns a SHA3-256 hex digest identifying a candidate list.
// The digest ignores order and duplicates, so two runs over the same proxies
// share a digest even if the source files were shuffled.
func InputDigest(candidates []model.Candidate) string {
	lines := make([]string, 0, len(candidates))
	for _, c := range model.Unique(candidates) {
		lines = append(lines, c.String())
	}
	slices.Sort(lines)

	sum := sha3.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

// shortDigestLen is enough to tell input lists apart in a table.
const shortDigestLen = 12

// ShortDigest abbreviates a digest for display. Empty digests become "-".
func ShortDigest(digest string) string {
	if digest == "" {
		return "-"
	}
	if len(digest) > shortDigestLen {
		return digest[:shortDigestLen]
	}
	return digest
}

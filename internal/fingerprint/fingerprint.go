// Package fingerprint derives the identity of a posting from the fields that
// make it the same listing, ignoring formatting noise.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/source/util"
)

// Width is the number of hex characters kept from the digest.
const Width = 32

const sep = "\x1f"

// Compute returns the fingerprint of p. The source-native external id is
// authoritative when present; otherwise title, organization and location
// form the key. Free text such as the description never participates.
func Compute(p domain.Posting) string {
	return Sum(Key(p))
}

// Key is the normalized pre-image hashed by Compute.
func Key(p domain.Posting) string {
	src := util.Fold(p.SourceID)
	if ext := util.Fold(p.ExternalID); ext != "" {
		return strings.Join([]string{"ext", src, ext}, sep)
	}
	return strings.Join([]string{
		"cmp",
		src,
		util.Fold(p.Title),
		util.Fold(p.Organization),
		util.Fold(p.Location),
	}, sep)
}

func Sum(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:Width]
}

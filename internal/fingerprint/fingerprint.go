// Package fingerprint computes the SHA-256 digests used for exact-duplicate
// detection. Digests carry no notion of near-duplicates.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Size is the length of a hex-encoded digest.
const Size = sha256.Size * 2

// Primary fingerprints the raw, as-ingested fields of a publication.
func Primary(processRaw, dateRaw, textRaw string) string {
	return digest(processRaw, dateRaw, textRaw)
}

// Secondary fingerprints the normalized process number and text together
// with the raw date. It catches records that differ only in formatting.
func Secondary(processNorm, dateRaw, textNorm string) string {
	return digest(processNorm, dateRaw, textNorm)
}

// digest length-prefixes every field so that no two distinct field tuples
// share an encoding.
func digest(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// keySeparator joins the key components. Voice ids never contain it.
const keySeparator = "::"

// Key returns the content address of a synthesis result. It depends only on
// the voice and the exact text, whitespace included, so identical input maps
// to the same key across runs and processes.
func Key(voiceID, text string) string {
	sum := sha256.Sum256([]byte(voiceID + keySeparator + text))
	return hex.EncodeToString(sum[:])
}

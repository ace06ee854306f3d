// Package fingerprint derives the stable content key used for dedup.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/yangchao228/ScoutX/internal/models"
)

// Size is the length of every fingerprint string.
const Size = sha256.Size * 2

// Of returns the hex sha256 of the item URL, or of the title when the URL is empty.
func Of(item models.Item) string {
	key := item.URL
	if key == "" {
		key = item.Title
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

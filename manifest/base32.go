package manifest

import (
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// lowerBase32 is the encoding used for the "new" manifest formats'
// digest strings: standard RFC 4648 base32, lowercased, with padding
// stripped (the underlying byte length is always a multiple of the hash
// size, so the padding is redundant and 0install-style tools omit it).
var lowerBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// encodeDigest renders sum using the encoding appropriate for f: lowercase
// hex for the "old" formats, lowercase base32 for the "new" ones.
func encodeDigest(f Format, sum []byte) string {
	if f.IsNew() {
		return strings.ToLower(lowerBase32.EncodeToString(sum))
	}
	return hex.EncodeToString(sum)
}

// decodeDigest is the inverse of encodeDigest.
func decodeDigest(f Format, encoded string) ([]byte, error) {
	if f.IsNew() {
		return lowerBase32.DecodeString(strings.ToUpper(encoded))
	}
	return hex.DecodeString(encoded)
}

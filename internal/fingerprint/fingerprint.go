package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// DefaultShingleSize is the token window width. Five words is small enough
// to survive sentence-level edits and large enough that shared shingles
// imply copied phrasing rather than common English.
const DefaultShingleSize = 5

// Fingerprint is the comparable representation of one document. Shingle
// keys are sha1 hashes of overlapping token windows over the normalized
// body, so two fingerprints can be compared without either text.
type Fingerprint struct {
	ContentHash string
	ShingleSize int
	Shingles    map[string]struct{}
	CreatedAt   time.Time
}

var punctStripper = regexp.MustCompile(`[^a-z0-9\s]+`)
var multiSpace = regexp.MustCompile(`\s+`)

// Normalize folds case, punctuation and whitespace so that fingerprints
// depend only on word content.
func Normalize(text string) string {
	text = strings.ToLower(text)
	text = punctStripper.ReplaceAllString(text, " ")
	return strings.TrimSpace(multiSpace.ReplaceAllString(text, " "))
}

// ContentHash is the identity of the source bytes. It matches the host
// platform's contenthash so the two sides agree on what "same file" means.
func ContentHash(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Compute builds the fingerprint for a document body. Deterministic:
// identical body text always yields an identical shingle set.
func Compute(raw []byte, body string, shingleSize int) *Fingerprint {
	if shingleSize <= 0 {
		shingleSize = DefaultShingleSize
	}
	return &Fingerprint{
		ContentHash: ContentHash(raw),
		ShingleSize: shingleSize,
		Shingles:    Shingles(body, shingleSize),
		CreatedAt:   time.Now().UTC(),
	}
}

// Shingles hashes every overlapping n-word window of the normalized text.
// Texts shorter than one window produce an empty set.
func Shingles(text string, n int) map[string]struct{} {
	words := strings.Fields(Normalize(text))
	out := map[string]struct{}{}
	if len(words) < n {
		return out
	}
	for i := 0; i+n <= len(words); i++ {
		out[sha1Hash(strings.Join(words[i:i+n], " "))] = struct{}{}
	}
	return out
}

// Jaccard returns the overlap of two shingle sets in [0,1].
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func sha1Hash(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

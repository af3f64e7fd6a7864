package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// PartialKeySeparator joins the four partial fields into one key.
const PartialKeySeparator = "|"

// StrictKey returns a SHA-256 digest over the full ordered value sequence.
// Each value is length-prefixed so that no two distinct rows share a serialization.
func StrictKey(values []string) string {
	h := sha256.New()
	var lenBuf [20]byte
	for _, v := range values {
		h.Write(strconv.AppendInt(lenBuf[:0], int64(len(v)), 10))
		h.Write([]byte{':'})
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// partialEscaper escapes the separator inside values so that "a|b","c" and
// "a","b|c" produce different keys.
var partialEscaper = strings.NewReplacer(`\`, `\\`, PartialKeySeparator, `\`+PartialKeySeparator)

// PartialKey joins the values at the four positions in locality, scientific
// name, recorder, date order.
func PartialKey(r Record, positions [4]int) string {
	var b strings.Builder
	for i, p := range positions {
		if i > 0 {
			b.WriteString(PartialKeySeparator)
		}
		partialEscaper.WriteString(&b, r.value(p))
	}
	return b.String()
}

// Classifier assigns each record a Classification against the job's caches.
// Records must be classified in strictly increasing index order.
type Classifier struct {
	strict  bool
	partial bool
	fields  [4]int
	caches  CachePair
}

// NewClassifier creates a classifier for the enabled tiers.
// Partial detection is only enabled if positions were resolved for it.
func NewClassifier(types DuplicateTypes, pos Positions, caches CachePair) *Classifier {
	return &Classifier{
		strict:  types.Strict,
		partial: types.Partial && pos.HasPartial,
		fields:  pos.Partial,
		caches:  caches,
	}
}

// Classify checks the strict tier first; a strict hit short-circuits the partial tier.
func (c *Classifier) Classify(r Record) Classification {
	if c.strict {
		key := StrictKey(r.Values)
		if orig, ok := c.caches.Strict.Lookup(key); ok {
			return Classification{Status: StrictDuplicate, Original: orig}
		}
		c.caches.Strict.InsertIfAbsent(key, r.Index)
	}

	if c.partial {
		key := PartialKey(r, c.fields)
		if orig, ok := c.caches.Partial.Lookup(key); ok {
			return Classification{Status: PartialDuplicate, Original: orig}
		}
		c.caches.Partial.InsertIfAbsent(key, r.Index)
	}

	return Classification{Status: Unique}
}

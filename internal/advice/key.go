// Package advice implements the deterministic mulligan advice cache: a stable
// key derived from a canonicalized (deck, hand, parameters) tuple, a TTL'd
// row store with hit accounting, and the response schema cached rows must
// satisfy.
package advice

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/manatap/triage/pkg/models"
	"github.com/zeebo/blake3"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// KeyVersion prefixes every key. Bump it when canonicalization changes.
const KeyVersion = "mulligan:v1"

// DefaultFormat is used when the request names no format.
const DefaultFormat = "commander"

// segmentHashLen is the number of hex characters kept from each digest.
const segmentHashLen = 16

// NormalizeName folds a card name so that case, Unicode compatibility forms
// and whitespace differences do not change the key.
func NormalizeName(name string) string {
	s := norm.NFKC.String(name)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalDeck renders a deck as "count|name" entries joined by ";", sorted
// by normalized name. Duplicate names are merged, blank names are dropped and
// a non-positive count reads as one copy.
func CanonicalDeck(deck []models.DeckCard) string {
	counts := make(map[string]int, len(deck))
	for _, c := range deck {
		name := NormalizeName(c.Name)
		if name == "" {
			continue
		}
		n := c.Count
		if n <= 0 {
			n = 1
		}
		counts[name] += n
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = strconv.Itoa(counts[name]) + "|" + name
	}
	return strings.Join(parts, ";")
}

// CanonicalHand renders a hand as sorted normalized names joined by ";".
// Duplicates are kept since a hand can hold two copies of a card.
func CanonicalHand(hand []string) string {
	names := make([]string, 0, len(hand))
	for _, h := range hand {
		if name := NormalizeName(h); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ";")
}

// SegmentHash returns the truncated BLAKE3 hex digest of s.
func SegmentHash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:segmentHashLen]
}

// Key derives the cache key for in. Equal logical inputs always produce equal
// keys regardless of list order or casing.
func Key(in models.AdviceKeyInput) string {
	format := scalar(in.Format)
	if format == "" {
		format = DefaultFormat
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d:%s:%s",
		KeyVersion,
		SegmentHash(CanonicalDeck(in.Deck)),
		SegmentHash(CanonicalHand(in.Hand)),
		scalar(in.PlayDraw),
		in.MulliganCount,
		scalar(in.ModelTier),
		format,
	)
}

func scalar(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Package verify implements caller identity verification against a known
// caller directory.
//
// Names arrive through speech transcription, so exact string equality is
// useless: "Jane Doe" may surface as "jane dough" or "jayne do". Matching
// runs in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the claimed name and each directory entry. Entries that
//     share at least one code become candidates.
//
//  2. Jaro-Winkler ranking: candidates are ranked by string similarity on
//     the full names (case-insensitive); the best candidate wins when its
//     score clears the phonetic threshold. When no phonetic candidate
//     exists, a fallback pass accepts a pure Jaro-Winkler match above a
//     stricter fuzzy threshold.
package verify

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Caller is a directory entry a claimed identity can resolve to.
type Caller struct {
	// ID is the stable directory identifier.
	ID string `yaml:"id" json:"id"`

	// Name is the full name as enrolled.
	Name string `yaml:"name" json:"name"`
}

// Match is a successful verification outcome.
type Match struct {
	Caller     Caller
	Confidence float64
}

// Verifier resolves a claimed name to a directory entry.
type Verifier interface {
	// Verify matches claimedName against the directory. ok is false when no
	// entry clears the configured thresholds.
	Verify(ctx context.Context, claimedName string) (match Match, ok bool, err error)
}

// Option is a functional option for configuring a [DirectoryVerifier].
type Option func(*DirectoryVerifier)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(v *DirectoryVerifier) {
		v.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(v *DirectoryVerifier) {
		v.fuzzyThreshold = threshold
	}
}

// DirectoryVerifier verifies claimed names against an in-memory directory.
// It is read-only after construction and safe for concurrent use.
type DirectoryVerifier struct {
	directory         []Caller
	phoneticThreshold float64
	fuzzyThreshold    float64
}

var _ Verifier = (*DirectoryVerifier)(nil)

// NewDirectoryVerifier creates a verifier over the given directory.
func NewDirectoryVerifier(directory []Caller, opts ...Option) *DirectoryVerifier {
	v := &DirectoryVerifier{
		directory:         directory,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify implements Verifier.
func (v *DirectoryVerifier) Verify(_ context.Context, claimedName string) (Match, bool, error) {
	claimed := strings.ToLower(strings.TrimSpace(claimedName))
	if claimed == "" || len(v.directory) == 0 {
		return Match{}, false, nil
	}
	claimedTokens := strings.Fields(claimed)
	claimedCodes := codesForTokens(claimedTokens)

	type candidate struct {
		caller   Caller
		score    float64
		phonetic bool
	}
	var best candidate

	for _, entry := range v.directory {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			continue
		}
		nameTokens := strings.Fields(name)

		phonetic := codesOverlap(claimedCodes, codesForTokens(nameTokens))
		score := bestJWScore(claimedTokens, nameTokens, claimed, name)

		if phonetic {
			if score >= v.phoneticThreshold && (!best.phonetic || score > best.score) {
				best = candidate{caller: entry, score: score, phonetic: true}
			}
		} else if !best.phonetic {
			if score >= v.fuzzyThreshold && score > best.score {
				best = candidate{caller: entry, score: score, phonetic: false}
			}
		}
	}

	if best.caller.ID == "" {
		return Match{}, false, nil
	}
	return Match{Caller: best.caller, Confidence: best.score}, true, nil
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the
// claimed name and the directory name: full strings, space-stripped strings,
// and the best pairwise token score all count.
func bestJWScore(claimedTokens, nameTokens []string, claimed, name string) float64 {
	best := matchr.JaroWinkler(claimed, name, false)

	stripped := matchr.JaroWinkler(
		strings.ReplaceAll(claimed, " ", ""),
		strings.ReplaceAll(name, " ", ""),
		false,
	)
	if stripped > best {
		best = stripped
	}

	for _, ct := range claimedTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(ct, nt, false); s > best {
				best = s
			}
		}
	}
	return best
}

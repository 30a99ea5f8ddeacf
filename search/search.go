// Package search ranks usernames against a fuzzy query.
package search

import (
	"sort"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	DefaultLimit  = 5
	DefaultCutoff = 0.8
)

type match struct {
	score     float64
	candidate string
}

// CloseMatches returns up to n candidates whose similarity ratio to query is
// at least cutoff, best first. Equal scores are ordered by candidate,
// descending. Similarity is computed over characters.
func CloseMatches(query string, candidates []string, n int, cutoff float64) []string {
	if n <= 0 {
		n = DefaultLimit
	}
	if cutoff < 0 || cutoff > 1 {
		cutoff = DefaultCutoff
	}

	m := difflib.NewMatcher(nil, nil)
	m.SetSeq2(chars(query))

	var matches []match
	for _, candidate := range candidates {
		m.SetSeq1(chars(candidate))
		// cheap upper bounds first
		if m.RealQuickRatio() >= cutoff && m.QuickRatio() >= cutoff {
			if score := m.Ratio(); score >= cutoff {
				matches = append(matches, match{score: score, candidate: candidate})
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].candidate > matches[j].candidate
	})
	if len(matches) > n {
		matches = matches[:n]
	}

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.candidate
	}
	return out
}

func chars(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

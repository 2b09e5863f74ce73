package intent

import "strings"

// minTokenLen filters out short stop-word-like tokens before scoring.
const minTokenLen = 3

// OverlapRatio scores how much of the query is covered by the candidate
// text: |query tokens ∩ candidate tokens| / |query tokens|, case-folded,
// ignoring tokens shorter than three characters. An empty query after
// filtering scores 0.0 and therefore never matches.
func OverlapRatio(query, candidate string) float64 {
	queryTokens := significantTokens(query)
	if len(queryTokens) == 0 {
		return 0.0
	}

	candidateSet := make(map[string]struct{})
	for _, tok := range significantTokens(candidate) {
		candidateSet[tok] = struct{}{}
	}

	matched := 0
	for _, tok := range queryTokens {
		if _, ok := candidateSet[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func significantTokens(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		if len(tok) < minTokenLen {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

package search

import "sort"

// Intersection counts tokens present in both sets.
func Intersection(query, rec []string) int {
	if len(query) == 0 || len(rec) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(rec))
	for _, tok := range rec {
		set[tok] = struct{}{}
	}
	n := 0
	for _, tok := range query {
		if _, ok := set[tok]; ok {
			n++
		}
	}
	return n
}

// Match decides whether a record's token set satisfies a query. In the
// default mode any minMatches overlapping tokens suffice; strict mode
// requires every query token to be present. An empty query token set
// matches nothing, never everything.
func Match(query, rec []string, minMatches int, strict bool) bool {
	if len(query) == 0 {
		return false
	}
	got := Intersection(query, rec)
	if strict {
		return got == len(query)
	}
	if minMatches < 1 {
		minMatches = 1
	}
	return got >= minMatches
}

// Ranked pairs a record id with its query-overlap count.
type Ranked struct {
	ID      string
	Matches int
}

// RecordTokens is one record's id and token set, the unit the local
// matcher ranks over.
type RecordTokens struct {
	ID     string
	Tokens []string
}

// Rank orders candidates by intersection size descending, dropping
// records below minMatches (or non-containing ones in strict mode).
func Rank(query []string, records []RecordTokens, minMatches int, strict bool) []Ranked {
	var out []Ranked
	for _, r := range records {
		if !Match(query, r.Tokens, minMatches, strict) {
			continue
		}
		out = append(out, Ranked{ID: r.ID, Matches: Intersection(query, r.Tokens)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Matches > out[j].Matches })
	return out
}

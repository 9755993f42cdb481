package sources

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Scores awarded by the candidate selector. Only their relative order matters:
// a number match outweighs any set or title evidence.
const (
	scoreNumberExact  = 10
	scoreSetExact     = 5
	scoreSetContains  = 3
	scoreSetContained = 2
	scoreTitleExact   = 5
	scoreTitlePrefix  = 3
	scoreTitleContain = 1
)

// Candidate is one raw record returned by a provider search, before selection.
type Candidate struct {
	ID      string
	Name    string
	SetName string
	Number  string
	Variant string
	// Data is the provider record the candidate was parsed from.
	Data gjson.Result
}

// Score rates how well a candidate matches the query.
func Score(c Candidate, q Query) int {
	score := 0

	if qn := NormalizeNumber(q.CardNumber); qn != "" && qn == NormalizeNumber(c.Number) {
		score += scoreNumberExact
	}

	qs, cs := NormalizeText(q.SetName), NormalizeText(c.SetName)
	if qs != "" && cs != "" {
		switch {
		case qs == cs:
			score += scoreSetExact
		case strings.Contains(cs, qs):
			score += scoreSetContains
		case strings.Contains(qs, cs):
			score += scoreSetContained
		}
	}

	qt, ct := NormalizeText(q.Name), NormalizeText(c.Name)
	if qt != "" && ct != "" {
		switch {
		case qt == ct:
			score += scoreTitleExact
		case strings.HasPrefix(ct, qt):
			score += scoreTitlePrefix
		case strings.Contains(ct, qt):
			score += scoreTitleContain
		}
	}

	return score
}

// Select returns the best matching candidate. With one candidate it is returned
// as is; ties go to the earliest candidate.
func Select(candidates []Candidate, q Query) (Candidate, bool) {
	switch len(candidates) {
	case 0:
		return Candidate{}, false
	case 1:
		return candidates[0], true
	}

	best, bestScore := 0, Score(candidates[0], q)
	for i := 1; i < len(candidates); i++ {
		if s := Score(candidates[i], q); s > bestScore {
			best, bestScore = i, s
		}
	}
	return candidates[best], true
}

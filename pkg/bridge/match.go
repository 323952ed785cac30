// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xrash/smetrics"
	"maunium.net/go/mautrix/id"
)

// similarityThreshold is the minimum Jaro-Winkler score for the fuzzy tier.
const similarityThreshold = 0.70

// Match-quality scores for the ranked search variant. Similarity matches
// keep their raw score, which is always below the substring score.
const (
	scoreExact     = 2.0
	scoreSubstring = 1.0
)

// RoomCandidate is one room offered to the matcher.
type RoomCandidate struct {
	ID id.RoomID
	// Name is the raw room display name.
	Name string
	// ChatName is the derived chat name (service suffix stripped).
	ChatName     string
	LastActivity int64
}

// MatchTier records which rule produced a match.
type MatchTier int

const (
	MatchExact MatchTier = iota
	MatchSubstring
	MatchSimilarity
)

func (t MatchTier) String() string {
	switch t {
	case MatchExact:
		return "exact"
	case MatchSubstring:
		return "substring"
	default:
		return "similarity"
	}
}

// Match is a matched room with its quality score.
type Match struct {
	Candidate RoomCandidate
	Tier      MatchTier
	Score     float64
}

// NoMatchError reports that no room matched the query. Suggestions, when
// present, are the closest candidate chat names.
type NoMatchError struct {
	Query       string
	Suggestions []string
}

func (e *NoMatchError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("no matching room found for %q", e.Query)
	}
	return fmt.Sprintf("no matching room found for %q, did you mean: %s", e.Query, strings.Join(e.Suggestions, ", "))
}

// MatchRoom resolves a free-text chat name to one candidate. The rules run
// in fixed precedence and the first rule producing at least one candidate
// wins:
//
//  1. exact case-insensitive equality of the derived chat name,
//  2. case-insensitive substring containment, tie-broken by last activity,
//  3. Jaro-Winkler similarity of at least 0.70, maximum score wins.
//
// It is a pure function: no I/O, fully unit-testable.
func MatchRoom(candidates []RoomCandidate, query string) (Match, error) {
	q := strings.ToLower(strings.TrimSpace(query))

	var exact []RoomCandidate
	for _, c := range candidates {
		if strings.ToLower(c.ChatName) == q {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		return Match{Candidate: mostActive(exact), Tier: MatchExact, Score: scoreExact}, nil
	}

	var contains []RoomCandidate
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.ChatName), q) {
			contains = append(contains, c)
		}
	}
	if len(contains) > 0 {
		return Match{Candidate: mostActive(contains), Tier: MatchSubstring, Score: scoreSubstring}, nil
	}

	best := Match{Score: -1}
	for _, c := range candidates {
		score := similarity(q, c.ChatName)
		if score < similarityThreshold {
			continue
		}
		if score > best.Score || (score == best.Score && c.LastActivity > best.Candidate.LastActivity) {
			best = Match{Candidate: c, Tier: MatchSimilarity, Score: score}
		}
	}
	if best.Score >= similarityThreshold {
		return best, nil
	}

	return Match{}, &NoMatchError{Query: query, Suggestions: nearMisses(candidates, q)}
}

// RankRooms is the ranked search variant of MatchRoom: every candidate gets
// the score of its best matching tier (exact 2.0, substring 1.0, similarity
// raw score in [0.70, 1.0)), and the result is sorted by score then last
// activity, both descending.
func RankRooms(candidates []RoomCandidate, query string) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Match
	for _, c := range candidates {
		name := strings.ToLower(c.ChatName)
		switch {
		case name == q:
			out = append(out, Match{Candidate: c, Tier: MatchExact, Score: scoreExact})
		case strings.Contains(name, q):
			out = append(out, Match{Candidate: c, Tier: MatchSubstring, Score: scoreSubstring})
		default:
			if score := similarity(q, c.ChatName); score >= similarityThreshold {
				out = append(out, Match{Candidate: c, Tier: MatchSimilarity, Score: score})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Candidate.LastActivity > out[j].Candidate.LastActivity
	})
	return out
}

func similarity(query, chatName string) float64 {
	return smetrics.JaroWinkler(query, strings.ToLower(chatName), 0.7, 4)
}

// mostActive returns the candidate with the highest last activity.
func mostActive(candidates []RoomCandidate) RoomCandidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LastActivity > best.LastActivity {
			best = c
		}
	}
	return best
}

// nearMisses returns up to three candidate chat names ranked by raw
// similarity, regardless of the match threshold. Used to enrich the
// not-found error with hints.
func nearMisses(candidates []RoomCandidate, q string) []string {
	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{name: c.ChatName, score: similarity(q, c.ChatName)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	var out []string
	for _, s := range ranked {
		if len(out) == 3 {
			break
		}
		out = append(out, s.name)
	}
	return out
}

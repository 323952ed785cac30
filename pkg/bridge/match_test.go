// Copyright 2025-2026 Rasmus Ahtava

package bridge

import (
	"errors"
	"testing"
)

func matchCandidates() []RoomCandidate {
	return []RoomCandidate{
		{ID: "!alice:example.org", Name: "Alice (WA)", ChatName: "Alice", LastActivity: 300},
		{ID: "!alicework:example.org", Name: "Alice Work (WA)", ChatName: "Alice Work", LastActivity: 100},
		{ID: "!john:example.org", Name: "John (WA)", ChatName: "John", LastActivity: 200},
		{ID: "!family:example.org", Name: "Family Group (WA)", ChatName: "Family Group", LastActivity: 400},
	}
}

func TestMatchRoomExact(t *testing.T) {
	t.Parallel()
	m, err := MatchRoom(matchCandidates(), "alice")
	if err != nil {
		t.Fatalf("MatchRoom: %v", err)
	}
	if m.Tier != MatchExact {
		t.Errorf("tier: got %s, want exact", m.Tier)
	}
	// "Alice Work" contains the query too, but exact equality wins outright.
	if m.Candidate.ID != "!alice:example.org" {
		t.Errorf("candidate: got %s", m.Candidate.ID)
	}
}

func TestMatchRoomSubstring(t *testing.T) {
	t.Parallel()
	m, err := MatchRoom(matchCandidates(), "alic")
	if err != nil {
		t.Fatalf("MatchRoom: %v", err)
	}
	if m.Tier != MatchSubstring {
		t.Errorf("tier: got %s, want substring", m.Tier)
	}
	// Both Alice rooms contain "alic"; last activity breaks the tie.
	if m.Candidate.ID != "!alice:example.org" {
		t.Errorf("candidate: got %s", m.Candidate.ID)
	}
}

func TestMatchRoomSimilarity(t *testing.T) {
	t.Parallel()
	// "jon" is neither equal to nor contained in "John"; only the fuzzy
	// tier can resolve it.
	m, err := MatchRoom(matchCandidates(), "jon")
	if err != nil {
		t.Fatalf("MatchRoom: %v", err)
	}
	if m.Tier != MatchSimilarity {
		t.Errorf("tier: got %s, want similarity", m.Tier)
	}
	if m.Candidate.ID != "!john:example.org" {
		t.Errorf("candidate: got %s", m.Candidate.ID)
	}
	if m.Score < similarityThreshold || m.Score >= 1.0 {
		t.Errorf("similarity score out of range: %v", m.Score)
	}
}

func TestMatchRoomCaseInsensitive(t *testing.T) {
	t.Parallel()
	m, err := MatchRoom(matchCandidates(), "  FAMILY GROUP ")
	if err != nil {
		t.Fatalf("MatchRoom: %v", err)
	}
	if m.Tier != MatchExact || m.Candidate.ID != "!family:example.org" {
		t.Errorf("got tier %s, candidate %s", m.Tier, m.Candidate.ID)
	}
}

func TestMatchRoomNoMatch(t *testing.T) {
	t.Parallel()
	_, err := MatchRoom(matchCandidates(), "zzzzzz")
	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("error: got %T (%v), want *NoMatchError", err, err)
	}
	if noMatch.Query != "zzzzzz" {
		t.Errorf("query: got %q", noMatch.Query)
	}
	if len(noMatch.Suggestions) == 0 || len(noMatch.Suggestions) > 3 {
		t.Errorf("suggestions: got %d, want 1..3", len(noMatch.Suggestions))
	}
}

func TestMatchRoomEmptyCandidates(t *testing.T) {
	t.Parallel()
	_, err := MatchRoom(nil, "alice")
	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("error: got %T, want *NoMatchError", err)
	}
	if len(noMatch.Suggestions) != 0 {
		t.Errorf("suggestions from empty set: %v", noMatch.Suggestions)
	}
}

func TestRankRoomsOrdering(t *testing.T) {
	t.Parallel()
	candidates := []RoomCandidate{
		{ID: "!a:x", ChatName: "Alice", LastActivity: 100},
		{ID: "!b:x", ChatName: "Alice Work", LastActivity: 200},
		{ID: "!c:x", ChatName: "Alicia", LastActivity: 300},
		{ID: "!d:x", ChatName: "Unrelated", LastActivity: 900},
	}
	ranked := RankRooms(candidates, "alice")
	if len(ranked) != 3 {
		t.Fatalf("ranked: got %d results, want 3", len(ranked))
	}
	if ranked[0].Candidate.ID != "!a:x" || ranked[0].Score != 2.0 {
		t.Errorf("first: got %s score %v, want exact Alice", ranked[0].Candidate.ID, ranked[0].Score)
	}
	if ranked[1].Candidate.ID != "!b:x" || ranked[1].Score != 1.0 {
		t.Errorf("second: got %s score %v, want substring Alice Work", ranked[1].Candidate.ID, ranked[1].Score)
	}
	if ranked[2].Candidate.ID != "!c:x" || ranked[2].Tier != MatchSimilarity {
		t.Errorf("third: got %s tier %s, want similarity Alicia", ranked[2].Candidate.ID, ranked[2].Tier)
	}
	if ranked[2].Score < similarityThreshold || ranked[2].Score >= 1.0 {
		t.Errorf("similarity score out of range: %v", ranked[2].Score)
	}
}

func TestRankRoomsActivityTieBreak(t *testing.T) {
	t.Parallel()
	candidates := []RoomCandidate{
		{ID: "!old:x", ChatName: "Group One", LastActivity: 100},
		{ID: "!new:x", ChatName: "Group Two", LastActivity: 500},
	}
	ranked := RankRooms(candidates, "group")
	if len(ranked) != 2 {
		t.Fatalf("ranked: got %d results, want 2", len(ranked))
	}
	if ranked[0].Candidate.ID != "!new:x" {
		t.Errorf("tie-break: got %s first, want the more recently active room", ranked[0].Candidate.ID)
	}
}

func TestMatchTierString(t *testing.T) {
	t.Parallel()
	if MatchExact.String() != "exact" || MatchSubstring.String() != "substring" || MatchSimilarity.String() != "similarity" {
		t.Error("MatchTier string labels changed")
	}
}

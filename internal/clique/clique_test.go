package clique

import "testing"

func membersEqual(t *testing.T, got []int, want ...int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected members %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected members %v, got %v", want, got)
		}
	}
}

// S1 — exact duplicate fast path: a single confirmed pair forms one group.
func TestBuildSingleEdgeFormsOneGroup(t *testing.T) {
	groups := Build([]Edge{
		{A: 1, B: 2, Confidence: 0.9, Relationship: "duplicate"},
	})
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	membersEqual(t, groups[0].Members, 1, 2)
	if groups[0].AvgConfidence != 0.9 {
		t.Fatalf("expected avg confidence 0.9, got %v", groups[0].AvgConfidence)
	}
}

// S2 — cluster-of-three, one false pair: (A,B) and (B,C) confirmed, (A,C)
// not. The higher-confidence edge's pair wins the clique; the third PR is
// left out since admitting it would require an edge to every member.
func TestBuildClusterOfThreeOneFalsePairSplitsOnConfidence(t *testing.T) {
	// (A,B)=1,2 at 0.9 is the highest-confidence edge, so it seeds first.
	// C (vertex 3) is adjacent to B but not A, so it cannot be admitted.
	groups := Build([]Edge{
		{A: 1, B: 2, Confidence: 0.9, Relationship: "duplicate"},
		{A: 2, B: 3, Confidence: 0.7, Relationship: "duplicate"},
	})
	if len(groups) != 1 {
		t.Fatalf("expected exactly 1 group (the singleton C is discarded), got %d: %+v", len(groups), groups)
	}
	membersEqual(t, groups[0].Members, 1, 2)
}

func TestBuildClusterOfThreeHigherConfidenceEdgeWinsWhenReversed(t *testing.T) {
	// Same triangle, but now (B,C) is the higher-confidence edge: it seeds
	// first and wins the clique instead of (A,B).
	groups := Build([]Edge{
		{A: 1, B: 2, Confidence: 0.6, Relationship: "duplicate"},
		{A: 2, B: 3, Confidence: 0.95, Relationship: "duplicate"},
	})
	if len(groups) != 1 {
		t.Fatalf("expected exactly 1 group, got %d: %+v", len(groups), groups)
	}
	membersEqual(t, groups[0].Members, 2, 3)
}

func TestBuildFullTriangleFormsOneCliqueOfThree(t *testing.T) {
	groups := Build([]Edge{
		{A: 1, B: 2, Confidence: 0.9, Relationship: "duplicate"},
		{A: 2, B: 3, Confidence: 0.85, Relationship: "duplicate"},
		{A: 1, B: 3, Confidence: 0.8, Relationship: "duplicate"},
	})
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d: %+v", len(groups), groups)
	}
	membersEqual(t, groups[0].Members, 1, 2, 3)
}

func TestBuildDisjointEdgesFormSeparateGroups(t *testing.T) {
	groups := Build([]Edge{
		{A: 1, B: 2, Confidence: 0.9, Relationship: "duplicate"},
		{A: 3, B: 4, Confidence: 0.8, Relationship: "duplicate"},
	})
	if len(groups) != 2 {
		t.Fatalf("expected 2 disjoint groups, got %d", len(groups))
	}
}

func TestBuildEmptyEdgesYieldsNoGroups(t *testing.T) {
	if groups := Build(nil); len(groups) != 0 {
		t.Fatalf("expected no groups, got %d", len(groups))
	}
}

func TestBuildNoVertexUsedTwice(t *testing.T) {
	groups := Build([]Edge{
		{A: 1, B: 2, Confidence: 0.9, Relationship: "duplicate"},
		{A: 2, B: 3, Confidence: 0.8, Relationship: "duplicate"},
		{A: 3, B: 4, Confidence: 0.7, Relationship: "duplicate"},
	})
	seen := make(map[int]bool)
	for _, g := range groups {
		for _, m := range g.Members {
			if seen[m] {
				t.Fatalf("PR %d appears in more than one group", m)
			}
			seen[m] = true
		}
	}
}

// Package clique collapses pairwise-confirmed duplicate edges into verified
// groups by confidence-ordered greedy clique construction. It deliberately
// does not take the transitive closure of confirmed edges: the pairwise LLM
// verdict is a noisy oracle, so a clique's membership is only as large as
// every pair within it being independently confirmed.
package clique

import "sort"

// Edge is one pairwise-confirmed duplicate verdict between two PR numbers.
type Edge struct {
	A, B         int
	Confidence   float64
	Relationship string
}

// Group is a maximal greedily-constructed clique over confirmed edges.
type Group struct {
	Members       []int
	AvgConfidence float64
	Relationship  string
}

// Build runs confidence-ordered greedy clique construction over edges,
// which must already be filtered to isDuplicate=true pairs. Each PR number
// is admitted into at most one group; edges are consumed highest-confidence
// first, and a vertex joins a clique only when it is adjacent (via a
// confirmed edge) to every current member.
func Build(edges []Edge) []Group {
	sorted := make([]Edge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	adjacency := make(map[int]map[int]Edge)
	addEdge := func(e Edge) {
		if adjacency[e.A] == nil {
			adjacency[e.A] = make(map[int]Edge)
		}
		if adjacency[e.B] == nil {
			adjacency[e.B] = make(map[int]Edge)
		}
		adjacency[e.A][e.B] = e
		adjacency[e.B][e.A] = e
	}
	for _, e := range sorted {
		addEdge(e)
	}

	used := make(map[int]bool)
	var groups []Group

	for _, seed := range sorted {
		if used[seed.A] || used[seed.B] {
			continue
		}

		members := []int{seed.A, seed.B}
		confidences := []float64{seed.Confidence}

		// Iteratively admit any unused vertex adjacent to every current
		// member. Each round re-scans all edges highest-confidence first and
		// considers the far end of every edge touching any current member,
		// so the order in which vertices are considered doesn't depend on
		// map iteration.
		for {
			admitted := false
			for _, e := range sorted {
				var candidate int
				var found bool
				switch {
				case contains(members, e.A):
					candidate, found = e.B, !contains(members, e.B) && !used[e.B]
				case contains(members, e.B):
					candidate, found = e.A, !contains(members, e.A) && !used[e.A]
				}
				if !found {
					continue
				}
				if adjacentToAll(adjacency, candidate, members) {
					members = append(members, candidate)
					confidences = append(confidences, e.Confidence)
					admitted = true
				}
			}
			if !admitted {
				break
			}
		}

		for _, m := range members {
			used[m] = true
		}

		sum := 0.0
		for _, c := range confidences {
			sum += c
		}

		sortedMembers := append([]int(nil), members...)
		sort.Ints(sortedMembers)

		groups = append(groups, Group{
			Members:       sortedMembers,
			AvgConfidence: sum / float64(len(confidences)),
			Relationship:  seed.Relationship,
		})
	}

	return groups
}

func adjacentTo(adjacency map[int]map[int]Edge, v int) map[int]Edge {
	if m, ok := adjacency[v]; ok {
		return m
	}
	return map[int]Edge{}
}

func adjacentToAll(adjacency map[int]map[int]Edge, v int, members []int) bool {
	neighbours := adjacentTo(adjacency, v)
	for _, m := range members {
		if _, ok := neighbours[m]; !ok {
			return false
		}
	}
	return true
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

package depgraph

import "testing"

func TestAddChildBidirectional(t *testing.T) {
	g := New[string]()
	g.AddChild("a", "b")

	if !g.HasEdge("a", "b") {
		t.Fatalf("expected edge a->b")
	}
	parents := g.IterParents("b")
	if len(parents) != 1 || parents[0] != "a" {
		t.Fatalf("expected parents(b) = [a], got %v", parents)
	}
}

func TestAddChildIdempotent(t *testing.T) {
	g := New[string]()
	g.AddChild("a", "b")
	g.AddChild("a", "b")

	children := g.IterChildren("a")
	if len(children) != 1 {
		t.Fatalf("expected exactly one child, got %v", children)
	}
}

func TestClearChildrenOfRemovesBothSides(t *testing.T) {
	g := New[string]()
	g.AddChild("a", "b")
	g.AddChild("a", "c")

	g.ClearChildrenOf("a")

	if len(g.IterChildren("a")) != 0 {
		t.Fatalf("expected no children after clear")
	}
	if len(g.IterParents("b")) != 0 {
		t.Fatalf("expected b to have no parents after clear")
	}
	if len(g.IterParents("c")) != 0 {
		t.Fatalf("expected c to have no parents after clear")
	}
}

func TestClearChildrenOfTwiceIsSafe(t *testing.T) {
	g := New[string]()
	g.AddChild("a", "b")
	g.ClearChildrenOf("a")
	g.ClearChildrenOf("a") // must not panic (no dead second step to trip over)

	if len(g.IterChildren("a")) != 0 {
		t.Fatalf("expected no children")
	}
}

func TestEdgeConsistencyProperty(t *testing.T) {
	// P2: for all a,b: b in children(a) iff a in parents(b).
	g := New[string]()
	edges := [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}}
	for _, e := range edges {
		g.AddChild(e[0], e[1])
	}

	keys := []string{"a", "b", "c", "d"}
	for _, a := range keys {
		for _, b := range keys {
			inChildren := false
			for _, c := range g.IterChildren(a) {
				if c == b {
					inChildren = true
				}
			}
			inParents := false
			for _, p := range g.IterParents(b) {
				if p == a {
					inParents = true
				}
			}
			if inChildren != inParents {
				t.Fatalf("edge consistency violated for (%s,%s): children=%v parents=%v", a, b, inChildren, inParents)
			}
		}
	}
}

func TestIterChildrenReturnsCopy(t *testing.T) {
	g := New[string]()
	g.AddChild("a", "b")

	snapshot := g.IterChildren("a")
	g.AddChild("a", "c")

	if len(snapshot) != 1 {
		t.Fatalf("snapshot must not observe later mutation, got %v", snapshot)
	}
}

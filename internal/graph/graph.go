// Package graph maintains the in-memory link graph between documents,
// keyed by relative path. The indexer rewrites a document's outgoing edges
// on every index event; the retrieval planner walks the graph breadth-first
// to find linked context. Reads vastly outnumber writes.
package graph

import (
	"sync"
)

// Visit is one document reached during traversal.
type Visit struct {
	// Path is the visited document's relative path.
	Path string
	// LinkedFrom is the seed whose frontier first discovered this path.
	LinkedFrom string
	// Depth is the BFS depth (1 = direct neighbor of a seed).
	Depth int
	// SeedLinkCount counts the distinct seeds whose frontiers reached this
	// path; multi-seed convergence boosts the link score.
	SeedLinkCount int
}

// Graph is a directed adjacency map with read/write locking.
type Graph struct {
	mu  sync.RWMutex
	out map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{out: make(map[string][]string)}
}

// ReplaceOutgoing atomically replaces the outgoing edge list of path.
// Duplicate and self targets are dropped; order is preserved.
func (g *Graph) ReplaceOutgoing(path string, targets []string) {
	deduped := make([]string, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t == "" || t == path || seen[t] {
			continue
		}
		seen[t] = true
		deduped = append(deduped, t)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(deduped) == 0 {
		delete(g.out, path)
		return
	}
	g.out[path] = deduped
}

// Remove deletes the vertex's outgoing edges. Edges pointing at the removed
// path stay; traversal consumers drop paths the store no longer has.
func (g *Graph) Remove(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.out, path)
}

// Outgoing returns a copy of the outgoing edge list.
func (g *Graph) Outgoing(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	targets := g.out[path]
	if len(targets) == 0 {
		return nil
	}
	return append([]string(nil), targets...)
}

// Len returns the number of vertices with outgoing edges.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.out)
}

// Clear drops every edge. Called on project switch.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.out = make(map[string][]string)
}

type frontierEntry struct {
	path string
	seed string
}

// Traverse walks breadth-first from the union of seeds. Each vertex is
// visited at most once; seeds are marked visited and never returned.
// Traversal stops when maxNodes distinct documents have been collected or
// the frontier would pass maxDepth. When a later frontier touches an
// already-visited path from a new seed, only its SeedLinkCount grows.
func (g *Graph) Traverse(seeds []string, maxDepth, maxNodes int) []Visit {
	if maxDepth <= 0 || maxNodes <= 0 || len(seeds) == 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	seedSet := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
	}

	var order []string
	found := make(map[string]*Visit)
	countedSeeds := make(map[string]map[string]bool)

	frontier := make([]frontierEntry, 0, len(seeds))
	for _, s := range seeds {
		frontier = append(frontier, frontierEntry{path: s, seed: s})
	}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []frontierEntry
		for _, entry := range frontier {
			for _, target := range g.out[entry.path] {
				if seedSet[target] {
					continue
				}
				if visit, ok := found[target]; ok {
					if !countedSeeds[target][entry.seed] {
						countedSeeds[target][entry.seed] = true
						visit.SeedLinkCount++
					}
					continue
				}
				if len(order) >= maxNodes {
					return collect(order, found)
				}
				found[target] = &Visit{
					Path:          target,
					LinkedFrom:    entry.seed,
					Depth:         depth,
					SeedLinkCount: 1,
				}
				countedSeeds[target] = map[string]bool{entry.seed: true}
				order = append(order, target)
				next = append(next, frontierEntry{path: target, seed: entry.seed})
			}
		}
		frontier = next
	}
	return collect(order, found)
}

func collect(order []string, found map[string]*Visit) []Visit {
	visits := make([]Visit, 0, len(order))
	for _, path := range order {
		visits = append(visits, *found[path])
	}
	return visits
}

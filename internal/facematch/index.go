package facematch

import (
	"cmp"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

const (
	// indexMaxNeighbors is the HNSW M parameter.
	indexMaxNeighbors = 16
	// indexSearchK is how many candidates are pulled from the graph before the
	// exact distance filter.
	indexSearchK = 8
)

// DescriptorIndex is an approximate nearest-neighbour index over enrolled
// descriptors. It is used to flag duplicate enrollments; terminal matching
// always uses the exact linear scan in Match.
type DescriptorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[string]
	vectors map[string]Descriptor
	dim     int
}

// Neighbor is an index hit with its exact Euclidean distance.
type Neighbor struct {
	ID       string
	Distance float64
}

// NewDescriptorIndex creates an empty index.
func NewDescriptorIndex() *DescriptorIndex {
	return &DescriptorIndex{vectors: make(map[string]Descriptor)}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index content with the given enrolled descriptors.
func (x *DescriptorIndex) Build(enrolled []Enrolled) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.graph = nil
	x.vectors = make(map[string]Descriptor, len(enrolled))
	x.dim = 0
	for _, e := range enrolled {
		x.addLocked(e)
	}
}

// Add inserts one descriptor. Descriptors whose length differs from the first
// indexed descriptor are ignored.
func (x *DescriptorIndex) Add(e Enrolled) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.addLocked(e)
}

func (x *DescriptorIndex) addLocked(e Enrolled) {
	if len(e.Descriptor) == 0 {
		return
	}
	if x.dim == 0 {
		x.dim = len(e.Descriptor)
	}
	if len(e.Descriptor) != x.dim {
		return
	}
	if _, exists := x.vectors[e.ID]; exists {
		// HNSW cannot update a node in place, rebuild without it.
		x.removeLocked(e.ID)
	}
	if x.graph == nil {
		x.graph = newGraph()
	}
	vec := make([]float32, len(e.Descriptor))
	copy(vec, e.Descriptor)
	x.graph.Add(hnsw.MakeNode(e.ID, vec))
	x.vectors[e.ID] = vec
}

// Remove drops an identity from the index.
func (x *DescriptorIndex) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(id)
}

func (x *DescriptorIndex) removeLocked(id string) {
	if _, ok := x.vectors[id]; !ok {
		return
	}
	delete(x.vectors, id)
	x.graph = nil
	if len(x.vectors) == 0 {
		x.dim = 0
		return
	}
	g := newGraph()
	for key, vec := range x.vectors {
		g.Add(hnsw.MakeNode(key, []float32(vec)))
	}
	x.graph = g
}

// Len returns the number of indexed identities.
func (x *DescriptorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Within returns indexed identities whose exact distance to probe is at most
// maxDistance, nearest first.
func (x *DescriptorIndex) Within(probe Descriptor, maxDistance float64) []Neighbor {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.graph == nil || len(probe) != x.dim {
		return nil
	}

	nodes := x.graph.Search([]float32(probe), indexSearchK)
	var out []Neighbor
	for _, n := range nodes {
		vec, ok := x.vectors[n.Key]
		if !ok {
			continue
		}
		if d := EuclideanDistance(probe, vec); d <= maxDistance {
			out = append(out, Neighbor{ID: n.Key, Distance: d})
		}
	}
	slices.SortFunc(out, func(a, b Neighbor) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	return out
}

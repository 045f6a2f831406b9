package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ChangeKind tells observers what class of mutation occurred, so they can
// decide whether re-derivation is needed without diffing the whole graph.
type ChangeKind int

const (
	// ChangeNodes: a node was added or removed.
	ChangeNodes ChangeKind = iota
	// ChangeEdges: the edge set changed.
	ChangeEdges
	// ChangeNodeData: an existing node's data record was patched.
	ChangeNodeData
)

type Change struct {
	Kind    ChangeKind
	NodeID  string
	NodeIDs []string // set instead of NodeID for batched data changes, sorted
	EdgeID  string
	Removed *Node // set when Kind==ChangeNodes and a node was deleted
}

type Observer func(Change)

// Store owns the node and edge collections. All mutations funnel through its
// methods; callers never touch the collections directly. Mutations are
// synchronous and notify registered observers after the write has committed.
type Store struct {
	mu        sync.Mutex
	nodes     []Node
	edges     []Edge
	nodeIndex map[string]int

	edgeVersion uint64
	dataVersion uint64

	observers []Observer
}

func NewStore() *Store {
	return &Store{nodeIndex: make(map[string]int)}
}

// Subscribe registers an observer. Observers run synchronously, outside the
// store lock, in registration order. They may mutate the store re-entrantly.
func (s *Store) Subscribe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	obs := append([]Observer(nil), s.observers...)
	s.mu.Unlock()
	for _, fn := range obs {
		fn(c)
	}
}

func (s *Store) AddNode(n Node) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Data.Status == "" {
		n.Data.Status = StatusIdle
	}

	s.mu.Lock()
	if _, exists := s.nodeIndex[n.ID]; exists {
		s.mu.Unlock()
		return ErrDuplicateNode
	}
	s.nodeIndex[n.ID] = len(s.nodes)
	s.nodes = append(s.nodes, n)
	s.edgeVersion++
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodes, NodeID: n.ID})
	return nil
}

// RemoveNode deletes the node and every edge touching it, and returns the
// removed node so callers can run cancellation side effects.
func (s *Store) RemoveNode(id string) (Node, bool) {
	s.mu.Lock()
	idx, ok := s.nodeIndex[id]
	if !ok {
		s.mu.Unlock()
		return Node{}, false
	}
	removed := s.nodes[idx]
	s.nodes = append(s.nodes[:idx], s.nodes[idx+1:]...)
	s.rebuildIndex()

	kept := s.edges[:0]
	for _, e := range s.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	s.edges = kept
	s.edgeVersion++
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodes, NodeID: id, Removed: &removed})
	return removed, true
}

func (s *Store) rebuildIndex() {
	for k := range s.nodeIndex {
		delete(s.nodeIndex, k)
	}
	for i, n := range s.nodes {
		s.nodeIndex[n.ID] = i
	}
}

// AddEdge rejects edges whose source or target node is unknown.
func (s *Store) AddEdge(e Edge) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	s.mu.Lock()
	if _, ok := s.nodeIndex[e.Source]; !ok {
		s.mu.Unlock()
		return ErrUnknownEndpoint
	}
	if _, ok := s.nodeIndex[e.Target]; !ok {
		s.mu.Unlock()
		return ErrUnknownEndpoint
	}
	s.edges = append(s.edges, e)
	s.edgeVersion++
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEdges, EdgeID: e.ID})
	return nil
}

func (s *Store) RemoveEdge(id string) bool {
	s.mu.Lock()
	found := false
	kept := s.edges[:0]
	for _, e := range s.edges {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	if found {
		s.edgeVersion++
	}
	s.mu.Unlock()

	if found {
		s.notify(Change{Kind: ChangeEdges, EdgeID: id})
	}
	return found
}

// PatchNodeData shallow-merges the patch into the node's data. Unknown ids
// are a no-op.
func (s *Store) PatchNodeData(id string, patch DataPatch) {
	s.mu.Lock()
	idx, ok := s.nodeIndex[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	patch.apply(&s.nodes[idx].Data)
	if patch.touchesDisplayFields() {
		s.dataVersion++
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodeData, NodeID: id})
}

// SetSequenceNumber assigns a composition order number to a node, enforcing
// uniqueness across the graph. On conflict nothing changes and the error
// carries the conflicting node's label.
func (s *Store) SetSequenceNumber(id string, n int) error {
	s.mu.Lock()
	idx, ok := s.nodeIndex[id]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownNode
	}
	for _, other := range s.nodes {
		if other.ID == id {
			continue
		}
		if other.Data.SequenceNumber != nil && *other.Data.SequenceNumber == n {
			err := &DuplicateSequenceError{
				Number:        n,
				ConflictID:    other.ID,
				ConflictLabel: other.Data.Label,
			}
			s.mu.Unlock()
			return err
		}
	}
	num := n
	s.nodes[idx].Data.SequenceNumber = &num
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeNodeData, NodeID: id})
	return nil
}

// ReplaceInputPreviews applies resolver output back into the store as a
// single batched mutation with one notification carrying every updated id.
func (s *Store) ReplaceInputPreviews(updates map[string][]InputPreviewItem) {
	if len(updates) == 0 {
		return
	}
	s.mu.Lock()
	applied := make([]string, 0, len(updates))
	for id, items := range updates {
		idx, ok := s.nodeIndex[id]
		if !ok {
			continue
		}
		s.nodes[idx].Data.InputPreviews = append([]InputPreviewItem(nil), items...)
		applied = append(applied, id)
	}
	s.mu.Unlock()

	sort.Strings(applied)
	s.notify(Change{Kind: ChangeNodeData, NodeIDs: applied})
}

func (s *Store) Node(id string) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.nodeIndex[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[idx], true
}

// Snapshot returns copies of the node and edge collections in insertion
// order. Callers may mutate the result freely.
func (s *Store) Snapshot() ([]Node, []Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]Node, len(s.nodes))
	copy(nodes, s.nodes)
	for i := range nodes {
		nodes[i].Data.InputPreviews = append([]InputPreviewItem(nil), nodes[i].Data.InputPreviews...)
	}
	edges := make([]Edge, len(s.edges))
	copy(edges, s.edges)
	return nodes, edges
}

// Versions returns the edge-mutation and display-data-mutation counters.
// Controllers compare these against their last-seen values instead of deep
// diffing the graph.
func (s *Store) Versions() (edges, data uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgeVersion, s.dataVersion
}

// Fingerprint is a cheap change-detection token over the fields that feed
// preview derivation: each upstream-capable node contributes its id, content
// URI, and filename.
func (s *Store) Fingerprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, n := range s.nodes {
		if !n.Type.IsUpstreamSource() {
			continue
		}
		content := n.Data.Preview
		if n.Type.isVideoKind() {
			content = n.Data.LastFrame
		}
		b.WriteString(n.ID)
		b.WriteByte(':')
		b.WriteString(content)
		b.WriteByte(':')
		b.WriteString(n.Data.FileName)
		b.WriteByte('|')
	}
	return b.String()
}

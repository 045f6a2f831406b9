package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageInput(id, preview, fileName string) Node {
	return Node{
		ID:   id,
		Type: NodeImageInput,
		Data: NodeData{Label: id, Preview: preview, FileName: fileName},
	}
}

func videoInput(id, videoURL, lastFrame, fileName string) Node {
	return Node{
		ID:   id,
		Type: NodeVideoInput,
		Data: NodeData{Label: id, Preview: videoURL, VideoURL: videoURL, LastFrame: lastFrame, FileName: fileName},
	}
}

func generator(id string, t NodeType) Node {
	return Node{ID: id, Type: t, Data: NodeData{Label: id}}
}

func TestAddEdgeRejectsUnknownEndpoints(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddNode(imageInput("a", "", "")))

	err := s.AddEdge(Edge{ID: "e1", Source: "a", Target: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownEndpoint)

	err = s.AddEdge(Edge{ID: "e2", Source: "ghost", Target: "a"})
	assert.ErrorIs(t, err, ErrUnknownEndpoint)

	_, edges := s.Snapshot()
	assert.Empty(t, edges, "rejected edges must never be stored")
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddNode(imageInput("a", "", "")))
	require.NoError(t, s.AddNode(generator("g", NodeImageGen)))
	require.NoError(t, s.AddNode(generator("h", NodeVideoGen)))
	require.NoError(t, s.AddEdge(Edge{ID: "e1", Source: "a", Target: "g"}))
	require.NoError(t, s.AddEdge(Edge{ID: "e2", Source: "a", Target: "h"}))
	require.NoError(t, s.AddEdge(Edge{ID: "e3", Source: "g", Target: "h"}))

	removed, ok := s.RemoveNode("a")
	require.True(t, ok)
	assert.Equal(t, "a", removed.ID)

	_, edges := s.Snapshot()
	require.Len(t, edges, 1)
	assert.Equal(t, "e3", edges[0].ID)
	for _, e := range edges {
		assert.NotEqual(t, "a", e.Source)
		assert.NotEqual(t, "a", e.Target)
	}
}

func TestRemoveNodeReportsRemovedNodeToObservers(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddNode(generator("g", NodeVideoGen)))

	var gotRemoved *Node
	s.Subscribe(func(c Change) {
		if c.Kind == ChangeNodes && c.Removed != nil {
			gotRemoved = c.Removed
		}
	})

	_, ok := s.RemoveNode("g")
	require.True(t, ok)
	require.NotNil(t, gotRemoved)
	assert.Equal(t, "g", gotRemoved.ID)
}

func TestPatchNodeDataShallowMerge(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddNode(generator("g", NodeVideoGen)))

	s.PatchNodeData("g", DataPatch{InputText: StrPtr("a calm ocean"), Status: StatusPtr(StatusRunning)})
	s.PatchNodeData("g", DataPatch{Status: StatusPtr(StatusCompleted)})

	n, ok := s.Node("g")
	require.True(t, ok)
	assert.Equal(t, "a calm ocean", n.Data.InputText, "untouched fields survive later patches")
	assert.Equal(t, StatusCompleted, n.Data.Status)

	// Unknown id is a no-op, not a panic.
	s.PatchNodeData("ghost", DataPatch{Status: StatusPtr(StatusError)})
}

func TestSequenceNumberUniqueness(t *testing.T) {
	s := NewStore()
	a := generator("a", NodeVideoGen)
	a.Data.Label = "clip one"
	b := generator("b", NodeVideoGen)
	require.NoError(t, s.AddNode(a))
	require.NoError(t, s.AddNode(b))

	require.NoError(t, s.SetSequenceNumber("a", 3))

	err := s.SetSequenceNumber("b", 3)
	var dup *DuplicateSequenceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "clip one", dup.ConflictLabel)
	assert.Equal(t, 3, dup.Number)

	// Neither node's data changed.
	na, _ := s.Node("a")
	nb, _ := s.Node("b")
	require.NotNil(t, na.Data.SequenceNumber)
	assert.Equal(t, 3, *na.Data.SequenceNumber)
	assert.Nil(t, nb.Data.SequenceNumber)

	// Reassigning a node its own number is fine.
	assert.NoError(t, s.SetSequenceNumber("a", 3))
}

func TestVersionCounters(t *testing.T) {
	s := NewStore()
	e0, d0 := s.Versions()

	require.NoError(t, s.AddNode(imageInput("a", "", "")))
	e1, _ := s.Versions()
	assert.Greater(t, e1, e0)

	s.PatchNodeData("a", DataPatch{Preview: StrPtr("data:image/png;base64,AA")})
	_, d1 := s.Versions()
	assert.Greater(t, d1, d0)

	// Patching a non-display field leaves the data version alone.
	s.PatchNodeData("a", DataPatch{InputText: StrPtr("hello")})
	_, d2 := s.Versions()
	assert.Equal(t, d1, d2)
}

func TestReplaceInputPreviewsNotifiesAllUpdatedIDs(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddNode(generator("g1", NodeImageGen)))
	require.NoError(t, s.AddNode(generator("g2", NodeVideoGen)))

	var got Change
	s.Subscribe(func(c Change) { got = c })

	s.ReplaceInputPreviews(map[string][]InputPreviewItem{
		"g2":    {{SourceNodeID: "a", Preview: "p"}},
		"g1":    {{SourceNodeID: "b", Preview: "q"}},
		"ghost": {{SourceNodeID: "c", Preview: "r"}},
	})

	assert.Equal(t, ChangeNodeData, got.Kind)
	assert.Equal(t, []string{"g1", "g2"}, got.NodeIDs, "every applied id, sorted; unknown ids excluded")
	assert.Empty(t, got.NodeID)
}

func TestSnapshotCopiesAreIndependent(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.AddNode(imageInput("a", "p", "f")))

	nodes, edges := s.Snapshot()
	nodes[0].Data.Preview = "mutated"
	_ = edges

	n, _ := s.Node("a")
	assert.Equal(t, "p", n.Data.Preview)
}

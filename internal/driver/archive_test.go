package driver

import (
	"context"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagraph/mediagraph/internal/graph"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
	"github.com/mediagraph/mediagraph/internal/workflow"
)

type executedQuery struct {
	query  string
	params map[string]interface{}
}

// fakeGraphDriver records executed queries and replays scripted results.
type fakeGraphDriver struct {
	executed []executedQuery
	results  map[string][]*neo4j.Record
}

func (f *fakeGraphDriver) ExecuteQuery(_ context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	f.executed = append(f.executed, executedQuery{query: query, params: params})
	return neo4j.EagerResult{Records: f.results[query]}, nil
}

func (f *fakeGraphDriver) BuildIndices(context.Context) error { return nil }
func (f *fakeGraphDriver) Close(context.Context) error        { return nil }

func record(keys []string, values ...interface{}) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

func TestUpsertWorkflowWritesHeadNodesAndEdges(t *testing.T) {
	fake := &fakeGraphDriver{}
	a := NewArchive(fake, logger.NewNop())

	seq := 1
	doc := &workflow.Document{
		Version:   workflow.Version,
		Timestamp: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
		Nodes: []graph.Node{
			{ID: "V", Type: graph.NodeVideoInput, Data: graph.NodeData{Label: "clip", SequenceNumber: &seq}},
			{ID: "G", Type: graph.NodeVideoGen, Data: graph.NodeData{Model: "wanx2.1-kf2v-plus"}},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "V", Target: "G"}},
	}

	require.NoError(t, a.UpsertWorkflow(context.Background(), "wf-1", doc))

	require.Len(t, fake.executed, 5)
	assert.Equal(t, SaveWorkflowQuery, fake.executed[0].query)
	assert.Equal(t, "wf-1", fake.executed[0].params["id"])
	assert.Equal(t, DeleteWorkflowGraphQuery, fake.executed[1].query,
		"re-saving clears the previous node set first")
	assert.Equal(t, SaveFlowNodeQuery, fake.executed[2].query)
	assert.Equal(t, 1, fake.executed[2].params["sequence_number"])
	assert.Equal(t, -1, fake.executed[3].params["sequence_number"],
		"unset sequence numbers archive as -1")
	assert.Equal(t, SaveFlowEdgeQuery, fake.executed[4].query)
	assert.Equal(t, "V", fake.executed[4].params["source"])
}

func TestLoadWorkflowReconstructsDocument(t *testing.T) {
	headKeys := []string{"id", "version", "timestamp", "file_path", "composed_video_url"}
	nodeKeys := []string{"id", "type", "label", "status", "preview", "video_url", "file_name",
		"server_path", "model", "input_text", "sequence_number", "x", "y"}
	edgeKeys := []string{"id", "source", "target", "source_handle", "target_handle"}

	fake := &fakeGraphDriver{results: map[string][]*neo4j.Record{
		GetWorkflowQuery: {
			record(headKeys, "wf-1", "1.0", "2026-08-28T12:00:00Z", "flow.json", "/ti2v_videos/composed.mp4"),
		},
		GetFlowNodesQuery: {
			record(nodeKeys, "V", "video-input", "clip", "idle", "/ti2v_videos/clip.mp4",
				"/ti2v_videos/clip.mp4", "clip.mp4", "/ti2v_videos/clip.mp4", "", "", int64(2), 10.5, 20.0),
			record(nodeKeys, "G", "video-gen", "", "completed", "", "", "", "",
				"wanx2.1-kf2v-plus", "a sunset", int64(-1), 0.0, 0.0),
		},
		GetFlowEdgesQuery: {
			record(edgeKeys, "e1", "V", "G", "output", "input"),
		},
	}}
	a := NewArchive(fake, logger.NewNop())

	doc, err := a.LoadWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, "flow.json", doc.FilePath)
	assert.Equal(t, "/ti2v_videos/composed.mp4", doc.Timeline.ComposedVideoURL)

	require.Len(t, doc.Nodes, 2)
	assert.Equal(t, graph.NodeVideoInput, doc.Nodes[0].Type)
	require.NotNil(t, doc.Nodes[0].Data.SequenceNumber)
	assert.Equal(t, 2, *doc.Nodes[0].Data.SequenceNumber)
	assert.Equal(t, 10.5, doc.Nodes[0].Position.X)
	assert.Nil(t, doc.Nodes[1].Data.SequenceNumber)
	assert.Equal(t, "wanx2.1-kf2v-plus", doc.Nodes[1].Data.Model)

	require.Len(t, doc.Edges, 1)
	assert.Equal(t, "V", doc.Edges[0].Source)
	assert.Equal(t, "G", doc.Edges[0].Target)
}

func TestLoadWorkflowMissingID(t *testing.T) {
	a := NewArchive(&fakeGraphDriver{}, logger.NewNop())
	_, err := a.LoadWorkflow(context.Background(), "nope")
	require.Error(t, err)
}

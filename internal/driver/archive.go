package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/mediagraph/mediagraph/internal/graph"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
	"github.com/mediagraph/mediagraph/internal/workflow"
)

// Archive persists workflow documents into the graph database as a
// Workflow node owning FlowNode nodes linked by FEEDS relationships.
type Archive struct {
	driver GraphDriver
	log    *logger.Logger
}

func NewArchive(d GraphDriver, log *logger.Logger) *Archive {
	return &Archive{driver: d, log: log}
}

// UpsertWorkflow replaces the archived graph for id with doc's contents.
func (a *Archive) UpsertWorkflow(ctx context.Context, id string, doc *workflow.Document) error {
	if _, err := a.driver.ExecuteQuery(ctx, SaveWorkflowQuery, map[string]interface{}{
		"id":                 id,
		"version":            doc.Version,
		"timestamp":          doc.Timestamp.UTC().Format(time.RFC3339),
		"file_path":          doc.FilePath,
		"composed_video_url": doc.Timeline.ComposedVideoURL,
	}); err != nil {
		return fmt.Errorf("save workflow %s: %w", id, err)
	}

	// Re-saving drops the previous node set so deleted nodes do not linger.
	if _, err := a.driver.ExecuteQuery(ctx, DeleteWorkflowGraphQuery, map[string]interface{}{"id": id}); err != nil {
		return fmt.Errorf("clear workflow %s: %w", id, err)
	}

	for _, n := range doc.Nodes {
		seq := -1
		if n.Data.SequenceNumber != nil {
			seq = *n.Data.SequenceNumber
		}
		if _, err := a.driver.ExecuteQuery(ctx, SaveFlowNodeQuery, map[string]interface{}{
			"workflow_id":     id,
			"id":              n.ID,
			"type":            string(n.Type),
			"label":           n.Data.Label,
			"status":          string(n.Data.Status),
			"preview":         n.Data.Preview,
			"video_url":       n.Data.VideoURL,
			"file_name":       n.Data.FileName,
			"server_path":     n.Data.ServerPath,
			"model":           n.Data.Model,
			"input_text":      n.Data.InputText,
			"sequence_number": seq,
			"x":               n.Position.X,
			"y":               n.Position.Y,
		}); err != nil {
			return fmt.Errorf("save node %s: %w", n.ID, err)
		}
	}

	for _, e := range doc.Edges {
		if _, err := a.driver.ExecuteQuery(ctx, SaveFlowEdgeQuery, map[string]interface{}{
			"workflow_id":   id,
			"id":            e.ID,
			"source":        e.Source,
			"target":        e.Target,
			"source_handle": e.SourceHandle,
			"target_handle": e.TargetHandle,
		}); err != nil {
			return fmt.Errorf("save edge %s: %w", e.ID, err)
		}
	}

	a.log.Info("workflow archived", "id", id, "nodes", len(doc.Nodes), "edges", len(doc.Edges))
	return nil
}

// LoadWorkflow reads an archived workflow back into document form.
func (a *Archive) LoadWorkflow(ctx context.Context, id string) (*workflow.Document, error) {
	head, err := a.driver.ExecuteQuery(ctx, GetWorkflowQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(head.Records) == 0 {
		return nil, fmt.Errorf("workflow %s not found", id)
	}

	doc := &workflow.Document{
		Version:  recordString(head.Records[0], "version"),
		FilePath: recordString(head.Records[0], "file_path"),
	}
	if ts, err := time.Parse(time.RFC3339, recordString(head.Records[0], "timestamp")); err == nil {
		doc.Timestamp = ts
	}
	doc.Timeline.ComposedVideoURL = recordString(head.Records[0], "composed_video_url")

	nodes, err := a.driver.ExecuteQuery(ctx, GetFlowNodesQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	doc.Nodes = make([]graph.Node, 0, len(nodes.Records))
	for _, r := range nodes.Records {
		n := graph.Node{
			ID:   recordString(r, "id"),
			Type: graph.NodeType(recordString(r, "type")),
			Position: graph.Position{
				X: recordFloat(r, "x"),
				Y: recordFloat(r, "y"),
			},
			Data: graph.NodeData{
				Label:      recordString(r, "label"),
				Status:     graph.NodeStatus(recordString(r, "status")),
				Preview:    recordString(r, "preview"),
				VideoURL:   recordString(r, "video_url"),
				FileName:   recordString(r, "file_name"),
				ServerPath: recordString(r, "server_path"),
				Model:      recordString(r, "model"),
				InputText:  recordString(r, "input_text"),
			},
		}
		if seq := recordInt(r, "sequence_number"); seq >= 0 {
			n.Data.SequenceNumber = graph.IntPtr(seq)
		}
		doc.Nodes = append(doc.Nodes, n)
	}

	edges, err := a.driver.ExecuteQuery(ctx, GetFlowEdgesQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	doc.Edges = make([]graph.Edge, 0, len(edges.Records))
	for _, r := range edges.Records {
		doc.Edges = append(doc.Edges, graph.Edge{
			ID:           recordString(r, "id"),
			Source:       recordString(r, "source"),
			Target:       recordString(r, "target"),
			SourceHandle: recordString(r, "source_handle"),
			TargetHandle: recordString(r, "target_handle"),
		})
	}

	return doc, nil
}

func recordString(r *neo4j.Record, key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func recordFloat(r *neo4j.Record, key string) float64 {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	}
	return 0
}

func recordInt(r *neo4j.Record, key string) int {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return -1
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return -1
}

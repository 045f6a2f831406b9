package engine

import (
	"context"
	"fmt"

	"github.com/mediagraph/mediagraph/internal/graph"
	"github.com/mediagraph/mediagraph/internal/media"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
	"github.com/mediagraph/mediagraph/internal/provider"
	"github.com/mediagraph/mediagraph/internal/task"
)

// Engine ties the graph store, the preview sync controller, payload
// extraction and the generation task client into one unit: mutations flow
// through Store, Send drives a generator node through submit-and-poll, and
// node removal cancels any in-flight task.
type Engine struct {
	Store     *graph.Store
	Sync      *graph.SyncController
	Tasks     *task.Client
	Extractor *media.Extractor

	registry *provider.Registry
	log      *logger.Logger
}

func New(store *graph.Store, sync *graph.SyncController, tasks *task.Client, extractor *media.Extractor, registry *provider.Registry, log *logger.Logger) *Engine {
	e := &Engine{
		Store:     store,
		Sync:      sync,
		Tasks:     tasks,
		Extractor: extractor,
		registry:  registry,
		log:       log,
	}
	sync.OnNodeRemoved(func(n graph.Node) { tasks.CancelNode(n.ID) })
	sync.Bind()
	return e
}

// Send resolves the generator node's inputs in payload mode, extracts the
// frame payloads and submits a generation task. Failures before submission
// are recorded on the node and returned.
func (e *Engine) Send(ctx context.Context, nodeID string) (string, error) {
	node, ok := e.Store.Node(nodeID)
	if !ok {
		return "", graph.ErrUnknownNode
	}
	if !node.Type.IsGenerator() {
		return "", fmt.Errorf("node %s (%s) cannot run generation", nodeID, node.Type)
	}

	snapNodes, snapEdges := e.Store.Snapshot()
	inputs := graph.CollectPayloadInputs(nodeID, snapNodes, snapEdges)

	p := e.registry.ForModel(node.Data.Model)
	first, last, err := e.Extractor.FramePair(ctx, inputs, p.RequiresLastFrame())
	if err != nil {
		e.Store.PatchNodeData(nodeID, graph.DataPatch{
			Status:           graph.StatusPtr(graph.StatusError),
			LastRequestError: graph.StrPtr(err.Error()),
		})
		return "", err
	}

	return e.Tasks.Submit(ctx, nodeID, provider.SubmitOptions{
		Prompt:           node.Data.InputText,
		FirstFrameBase64: first,
		LastFrameBase64:  last,
		AspectRatio:      node.Data.AspectRatio,
		Model:            node.Data.Model,
	})
}

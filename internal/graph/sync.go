package graph

import (
	"sync"

	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

// SyncController keeps every generator node's derived inputPreviews
// consistent with the current edge set and source-node data. It subscribes to
// store mutations and re-runs the resolver when either the edge set or a
// display-relevant field changed, applying the result as one batched patch.
//
// Convergence: the resolver only reports lists that differ from what is
// stored, and the fingerprint excludes inputPreviews itself, so applying the
// result never re-triggers the controller.
type SyncController struct {
	store *Store
	log   *logger.Logger

	// mu guards the last-seen tokens: observers run on whichever goroutine
	// performed the mutation, so handle is called concurrently.
	mu              sync.Mutex
	lastEdgeVersion uint64
	lastFingerprint string

	// onNodeRemoved runs after a node (and its edges) left the store, so
	// owners of per-node resources (in-flight tasks, transient URIs) can
	// release them.
	onNodeRemoved func(Node)
}

func NewSyncController(store *Store, log *logger.Logger) *SyncController {
	return &SyncController{store: store, log: log}
}

// OnNodeRemoved registers the cancellation hook. Must be called before Bind.
func (c *SyncController) OnNodeRemoved(fn func(Node)) {
	c.onNodeRemoved = fn
}

// Bind subscribes the controller to the store and runs one initial sync so a
// pre-populated graph (e.g. a loaded workflow) starts consistent.
func (c *SyncController) Bind() {
	c.store.Subscribe(c.handle)
	c.Resync()
}

func (c *SyncController) handle(change Change) {
	if change.Kind == ChangeNodes && change.Removed != nil && c.onNodeRemoved != nil {
		c.onNodeRemoved(*change.Removed)
	}

	edgeVersion, _ := c.store.Versions()
	fingerprint := c.store.Fingerprint()

	// The lock covers only the compare-and-set: Resync re-enters handle
	// through the store's notification when it applies a patch.
	c.mu.Lock()
	if edgeVersion == c.lastEdgeVersion && fingerprint == c.lastFingerprint {
		c.mu.Unlock()
		return
	}
	c.lastEdgeVersion = edgeVersion
	c.lastFingerprint = fingerprint
	c.mu.Unlock()

	c.Resync()
}

// Resync recomputes input previews over the full graph and applies any
// changed lists back to the store in a single batch.
func (c *SyncController) Resync() {
	nodes, edges := c.store.Snapshot()
	updates := ResolvePreviews(nodes, edges)
	if len(updates) == 0 {
		return
	}
	if c.log != nil {
		c.log.Debug("input previews re-derived", "generators_updated", len(updates))
	}
	c.store.ReplaceInputPreviews(updates)
}

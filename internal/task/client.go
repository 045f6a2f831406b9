package task

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/graph"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
	"github.com/mediagraph/mediagraph/internal/provider"
)

// ResultHook runs on terminal success before the owning node is patched. It
// may return a replacement URI for the node's video (e.g. a locally
// downloaded copy); returning "" keeps the provider's remote URL.
type ResultHook func(nodeID, taskID, remoteURL string) string

// Client owns the submit-then-poll lifecycle for generation tasks.
// Cancellation bookkeeping lives in a side table keyed by node id, never on
// the node data itself.
type Client struct {
	store    *graph.Store
	registry *provider.Registry
	log      *logger.Logger

	interval        time.Duration
	maxPollFailures int

	onResult ResultHook

	mu     sync.Mutex
	byNode map[string][]*trackedTask
}

type trackedTask struct {
	taskID string
	nodeID string
	cancel context.CancelFunc
}

func NewClient(store *graph.Store, registry *provider.Registry, cfg config.TaskConfig, log *logger.Logger) *Client {
	return &Client{
		store:           store,
		registry:        registry,
		log:             log,
		interval:        cfg.PollInterval.Std(),
		maxPollFailures: cfg.MaxPollFailures,
		byNode:          make(map[string][]*trackedTask),
	}
}

// OnResult installs the terminal-success hook.
func (c *Client) OnResult(h ResultHook) { c.onResult = h }

// Submit sends a generation request for the node and, on acceptance, starts
// the poll loop. Submit failures are surfaced immediately and recorded on the
// node; there is no retry.
func (c *Client) Submit(ctx context.Context, nodeID string, opts provider.SubmitOptions) (string, error) {
	p := c.registry.ForModel(opts.Model)

	c.store.PatchNodeData(nodeID, graph.DataPatch{
		Status:           graph.StatusPtr(graph.StatusRunning),
		LastRequestError: graph.StrPtr(""),
	})

	taskID, _, err := p.SubmitTask(ctx, opts)
	if err != nil {
		c.store.PatchNodeData(nodeID, graph.DataPatch{
			Status:           graph.StatusPtr(graph.StatusError),
			LastRequestError: graph.StrPtr(err.Error()),
		})
		return "", fmt.Errorf("submit via %s: %w", p.Name(), err)
	}

	c.store.PatchNodeData(nodeID, graph.DataPatch{TaskID: graph.StrPtr(taskID)})
	c.log.Info("task submitted", "node", nodeID, "task_id", taskID, "provider", p.Name())

	pollCtx, cancel := context.WithCancel(context.Background())
	t := &trackedTask{taskID: taskID, nodeID: nodeID, cancel: cancel}
	c.mu.Lock()
	c.byNode[nodeID] = append(c.byNode[nodeID], t)
	c.mu.Unlock()

	go c.poll(pollCtx, p, t)
	return taskID, nil
}

// CancelNode stops every in-flight poll loop owned by the node. Once
// cancelled a task issues no further queries and fires no terminal callback.
func (c *Client) CancelNode(nodeID string) {
	c.mu.Lock()
	tasks := c.byNode[nodeID]
	delete(c.byNode, nodeID)
	c.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
		c.log.Info("task cancelled", "node", nodeID, "task_id", t.taskID)
	}
}

// Active reports how many poll loops are currently tracked.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tasks := range c.byNode {
		n += len(tasks)
	}
	return n
}

func (c *Client) forget(t *trackedTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks := c.byNode[t.nodeID]
	for i, other := range tasks {
		if other == t {
			c.byNode[t.nodeID] = append(tasks[:i], tasks[i+1:]...)
			break
		}
	}
	if len(c.byNode[t.nodeID]) == 0 {
		delete(c.byNode, t.nodeID)
	}
}

// poll queries strictly sequentially: one query at a time, a fixed interval
// between them, the cancel flag checked before every reschedule.
func (c *Client) poll(ctx context.Context, p provider.Provider, t *trackedTask) {
	defer c.forget(t)

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
		if ctx.Err() != nil {
			return
		}

		status, err := p.QueryTask(ctx, t.taskID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			c.log.Warn("task poll failed", "task_id", t.taskID, "attempt", failures, "error", err)
			if failures >= c.maxPollFailures {
				c.fail(t, fmt.Sprintf("polling failed %d times in a row: %v", failures, err))
				return
			}
			continue
		}
		failures = 0

		if !status.State.IsTerminal() {
			continue
		}

		switch status.State {
		case provider.StateDone:
			c.complete(t, status)
		default:
			msg := status.ErrorMsg
			if msg == "" {
				msg = string(status.State)
			}
			c.fail(t, msg)
		}
		return
	}
}

func (c *Client) complete(t *trackedTask, status provider.TaskStatus) {
	videoURL := status.VideoURL
	if c.onResult != nil {
		if local := c.onResult(t.nodeID, t.taskID, status.VideoURL); local != "" {
			videoURL = local
		}
	}

	c.store.PatchNodeData(t.nodeID, graph.DataPatch{
		Status:   graph.StatusPtr(graph.StatusCompleted),
		Preview:  graph.StrPtr(videoURL),
		VideoURL: graph.StrPtr(videoURL),
		FileName: graph.StrPtr(resultFileName(videoURL, t.taskID)),
		TaskID:   graph.StrPtr(t.taskID),
	})
	c.log.Info("task completed", "node", t.nodeID, "task_id", t.taskID)
}

func (c *Client) fail(t *trackedTask, msg string) {
	c.store.PatchNodeData(t.nodeID, graph.DataPatch{
		Status:           graph.StatusPtr(graph.StatusError),
		LastRequestError: graph.StrPtr(msg),
	})
	c.log.Warn("task failed", "node", t.nodeID, "task_id", t.taskID, "error", msg)
}

// resultFileName takes the last path segment of the result URI, falling back
// to a synthesized name when the URI yields nothing usable.
func resultFileName(resultURI, taskID string) string {
	fallback := "generated_" + taskID + ".mp4"
	if resultURI == "" {
		return fallback
	}
	trimmed := resultURI
	if u, err := url.Parse(resultURI); err == nil && u.Path != "" {
		trimmed = u.Path
	}
	segment := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if segment == "" {
		return fallback
	}
	return segment
}

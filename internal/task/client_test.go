package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/graph"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
	"github.com/mediagraph/mediagraph/internal/provider"
)

// fakeProvider scripts submit/query behavior and counts query calls.
type fakeProvider struct {
	mu         sync.Mutex
	submitErr  error
	taskID     string
	statuses   []provider.TaskStatus
	queryErrs  []error
	queryCount int
}

func (f *fakeProvider) Name() string            { return "fake" }
func (f *fakeProvider) RequiresLastFrame() bool { return false }

func (f *fakeProvider) SubmitTask(context.Context, provider.SubmitOptions) (string, json.RawMessage, error) {
	if f.submitErr != nil {
		return "", nil, f.submitErr
	}
	return f.taskID, nil, nil
}

func (f *fakeProvider) QueryTask(context.Context, string) (provider.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.queryCount
	f.queryCount++
	if i < len(f.queryErrs) && f.queryErrs[i] != nil {
		return provider.TaskStatus{}, f.queryErrs[i]
	}
	if i >= len(f.statuses) {
		return f.statuses[len(f.statuses)-1], nil
	}
	return f.statuses[i], nil
}

func (f *fakeProvider) queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryCount
}

func newTestClient(t *testing.T, p provider.Provider) (*Client, *graph.Store) {
	t.Helper()
	s := graph.NewStore()
	require.NoError(t, s.AddNode(graph.Node{ID: "G", Type: graph.NodeVideoGen}))

	cfg := config.TaskConfig{
		PollInterval:    config.Duration(2 * time.Millisecond),
		MaxPollFailures: 3,
	}
	return NewClient(s, provider.NewRegistry(p), cfg, logger.NewNop()), s
}

func nodeData(t *testing.T, s *graph.Store, id string) graph.NodeData {
	t.Helper()
	n, ok := s.Node(id)
	require.True(t, ok)
	return n.Data
}

func TestSubmitFailureRecordedOnNode(t *testing.T) {
	p := &fakeProvider{submitErr: errors.New("image decode failed")}
	c, s := newTestClient(t, p)

	_, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.Error(t, err)

	data := nodeData(t, s, "G")
	assert.Equal(t, graph.StatusError, data.Status)
	assert.Contains(t, data.LastRequestError, "image decode failed")
	assert.Zero(t, c.Active(), "no poll loop after a rejected submit")
}

func TestPollUntilDonePatchesNode(t *testing.T) {
	p := &fakeProvider{
		taskID: "task-1",
		statuses: []provider.TaskStatus{
			{TaskID: "task-1", State: provider.StateInQueue},
			{TaskID: "task-1", State: provider.StateRunning},
			{TaskID: "task-1", State: provider.StateDone, VideoURL: "https://cdn.example.com/out/final.mp4?sig=abc"},
		},
	}
	c, s := newTestClient(t, p)

	taskID, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "task-1", taskID)
	assert.Equal(t, "task-1", nodeData(t, s, "G").TaskID)

	require.Eventually(t, func() bool {
		return nodeData(t, s, "G").Status == graph.StatusCompleted
	}, time.Second, time.Millisecond)

	data := nodeData(t, s, "G")
	assert.Equal(t, "https://cdn.example.com/out/final.mp4?sig=abc", data.VideoURL)
	assert.Equal(t, "final.mp4", data.FileName)

	require.Eventually(t, func() bool { return c.Active() == 0 }, time.Second, time.Millisecond)
	settled := p.queries()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, p.queries(), "polling stops at a terminal state")
}

func TestUnrecognizedStatusKeepsPolling(t *testing.T) {
	p := &fakeProvider{
		taskID: "task-2",
		statuses: []provider.TaskStatus{
			{TaskID: "task-2", State: provider.TaskState("queued_for_review")},
			{TaskID: "task-2", State: provider.TaskState("post_processing")},
			{TaskID: "task-2", State: provider.StateDone, VideoURL: "https://cdn/x.mp4"},
		},
	}
	c, s := newTestClient(t, p)

	_, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return nodeData(t, s, "G").Status == graph.StatusCompleted
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, p.queries(), 3)
}

func TestConsecutivePollFailuresFailTheTask(t *testing.T) {
	boom := errors.New("connection reset")
	p := &fakeProvider{
		taskID:    "task-3",
		queryErrs: []error{boom, boom, boom, boom, boom},
		statuses:  []provider.TaskStatus{{State: provider.StateRunning}},
	}
	c, s := newTestClient(t, p)

	_, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return nodeData(t, s, "G").Status == graph.StatusError
	}, time.Second, time.Millisecond)
	assert.Contains(t, nodeData(t, s, "G").LastRequestError, "3 times in a row")
	assert.Equal(t, 3, p.queries(), "the failure ceiling stops the loop")
}

func TestTransientPollFailureIsTolerated(t *testing.T) {
	boom := errors.New("gateway timeout")
	p := &fakeProvider{
		taskID:    "task-4",
		queryErrs: []error{boom, nil, boom, nil},
		statuses: []provider.TaskStatus{
			{},
			{State: provider.StateRunning},
			{},
			{State: provider.StateDone, VideoURL: "https://cdn/y.mp4"},
		},
	}
	c, s := newTestClient(t, p)

	_, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return nodeData(t, s, "G").Status == graph.StatusCompleted
	}, time.Second, time.Millisecond, "isolated poll errors must not fail the task")
}

func TestFailedTaskKeepsVendorMessageVerbatim(t *testing.T) {
	p := &fakeProvider{
		taskID: "task-5",
		statuses: []provider.TaskStatus{
			{State: provider.StateFailed, ErrorMsg: "InternalError.Algo: output screening hit"},
		},
	}
	c, s := newTestClient(t, p)

	_, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return nodeData(t, s, "G").Status == graph.StatusError
	}, time.Second, time.Millisecond)
	assert.Equal(t, "InternalError.Algo: output screening hit", nodeData(t, s, "G").LastRequestError)
}

func TestCancelNodeStopsPolling(t *testing.T) {
	p := &fakeProvider{
		taskID:   "task-6",
		statuses: []provider.TaskStatus{{State: provider.StateRunning}},
	}
	c, s := newTestClient(t, p)

	_, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return p.queries() >= 2 }, time.Second, time.Millisecond)

	c.CancelNode("G")
	require.Eventually(t, func() bool { return c.Active() == 0 }, time.Second, time.Millisecond)

	settled := p.queries()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, p.queries(), "no queries after cancellation")
	assert.Equal(t, graph.StatusRunning, nodeData(t, s, "G").Status,
		"cancellation fires no terminal callback")
}

func TestResultHookRewritesVideoURL(t *testing.T) {
	p := &fakeProvider{
		taskID: "task-7",
		statuses: []provider.TaskStatus{
			{State: provider.StateDone, VideoURL: "https://cdn/remote.mp4"},
		},
	}
	c, s := newTestClient(t, p)
	c.OnResult(func(nodeID, taskID, remote string) string {
		assert.Equal(t, "G", nodeID)
		assert.Equal(t, "https://cdn/remote.mp4", remote)
		return "/ti2v_videos/task-7_123.mp4"
	})

	_, err := c.Submit(context.Background(), "G", provider.SubmitOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return nodeData(t, s, "G").Status == graph.StatusCompleted
	}, time.Second, time.Millisecond)
	assert.Equal(t, "/ti2v_videos/task-7_123.mp4", nodeData(t, s, "G").VideoURL)
	assert.Equal(t, "task-7_123.mp4", nodeData(t, s, "G").FileName)
}

func TestResultFileNameFallback(t *testing.T) {
	assert.Equal(t, "final.mp4", resultFileName("https://cdn/a/final.mp4?x=1", "t1"))
	assert.Equal(t, "generated_t1.mp4", resultFileName("", "t1"))
	assert.Equal(t, "generated_t1.mp4", resultFileName("https://cdn/path/", "t1"))
}

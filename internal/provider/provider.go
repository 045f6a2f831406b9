package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// TaskState is the unified task status vocabulary. Providers map their own
// wire vocabulary onto it; strings outside the known set are passed through
// untouched so callers can keep polling through vendor vocabulary drift.
type TaskState string

const (
	StateInQueue TaskState = "in_queue"
	StateRunning TaskState = "running"
	StateDone    TaskState = "done"
	StateFailed  TaskState = "failed"
	StateTimeout TaskState = "timeout"
	StateUnknown TaskState = "unknown"
)

// IsTerminal reports whether no further polling should happen for the state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateTimeout:
		return true
	}
	return false
}

// SubmitOptions carries everything a generation request may need. Which
// fields are honored depends on the provider's request shape.
type SubmitOptions struct {
	Prompt           string
	FirstFrameBase64 string
	LastFrameBase64  string
	Seed             int
	Frames           int
	AspectRatio      string
	Model            string
	Resolution       string
}

// TaskStatus is the unified poll result.
type TaskStatus struct {
	TaskID   string
	State    TaskState
	VideoURL string
	ErrorMsg string
	Raw      json.RawMessage
}

// Provider is the pluggable generation capability. RequiresLastFrame
// declares the two-frame contract explicitly instead of leaving callers to
// infer it from model id strings.
type Provider interface {
	Name() string
	RequiresLastFrame() bool
	SubmitTask(ctx context.Context, opts SubmitOptions) (taskID string, raw json.RawMessage, err error)
	QueryTask(ctx context.Context, taskID string) (TaskStatus, error)
}

// Registry selects a provider by the node's chosen model id. New providers
// are added by registering an implementation, not by branching at call sites.
type Registry struct {
	providers map[string]Provider
	prefixes  []prefixRule
	fallback  Provider
}

type prefixRule struct {
	prefix   string
	provider Provider
}

func NewRegistry(fallback Provider) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
}

// Register binds an exact model id to a provider.
func (r *Registry) Register(modelID string, p Provider) {
	r.providers[strings.ToLower(modelID)] = p
}

// RegisterPrefix binds every model id starting with prefix to a provider,
// e.g. "wanx" covering wanx2.1-kf2v-plus and friends.
func (r *Registry) RegisterPrefix(prefix string, p Provider) {
	r.prefixes = append(r.prefixes, prefixRule{prefix: strings.ToLower(prefix), provider: p})
}

// ForModel resolves a model id to a provider, falling back to the default
// when the id is empty or unrecognized.
func (r *Registry) ForModel(modelID string) Provider {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if id == "" {
		return r.fallback
	}
	if p, ok := r.providers[id]; ok {
		return p
	}
	for _, rule := range r.prefixes {
		if strings.HasPrefix(id, rule.prefix) {
			return rule.provider
		}
	}
	return r.fallback
}

// newHTTPClient builds the shared client used by both providers. Connection
// pool settings follow the usual long-poll workload: few hosts, repeated
// requests.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

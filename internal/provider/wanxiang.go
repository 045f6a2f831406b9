package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

const (
	wanxiangSubmitPath = "/api/v1/services/aigc/image2video/video-synthesis"
	wanxiangQueryPath  = "/api/v1/tasks/"
)

// Wanxiang talks to the dashscope keyframe-to-video API. It takes a first
// and a last frame as data URIs and runs asynchronously behind the
// X-DashScope-Async header.
type Wanxiang struct {
	cfg    config.WanxiangConfig
	client *http.Client
	log    *logger.Logger

	// baseURL overrides cfg.Host; used by tests.
	baseURL string
}

func NewWanxiang(cfg config.WanxiangConfig, log *logger.Logger) *Wanxiang {
	return &Wanxiang{
		cfg:    cfg,
		client: newHTTPClient(30 * time.Second),
		log:    log,
	}
}

func (w *Wanxiang) Name() string { return "wanxiang" }

// RequiresLastFrame: keyframe interpolation wants both endpoints, though a
// submission with only the first frame is still accepted by the API.
func (w *Wanxiang) RequiresLastFrame() bool { return true }

type wanxiangSubmitRequest struct {
	Model      string               `json:"model"`
	Input      wanxiangSubmitInput  `json:"input"`
	Parameters wanxiangSubmitParams `json:"parameters"`
}

type wanxiangSubmitInput struct {
	FirstFrameURL string `json:"first_frame_url"`
	LastFrameURL  string `json:"last_frame_url,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
}

type wanxiangSubmitParams struct {
	Resolution   string `json:"resolution"`
	PromptExtend bool   `json:"prompt_extend"`
}

type wanxiangResponse struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Output    *wanxiangOutput `json:"output"`
}

type wanxiangOutput struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"`
	VideoURL   string `json:"video_url"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (w *Wanxiang) SubmitTask(ctx context.Context, opts SubmitOptions) (string, json.RawMessage, error) {
	if opts.FirstFrameBase64 == "" {
		return "", nil, fmt.Errorf("wanxiang submit requires a first frame")
	}

	model := opts.Model
	if model == "" {
		model = w.cfg.Model
	}
	resolution := opts.Resolution
	if resolution == "" {
		resolution = w.cfg.Resolution
	}

	body := wanxiangSubmitRequest{
		Model: model,
		Input: wanxiangSubmitInput{
			FirstFrameURL: dataURI(opts.FirstFrameBase64),
			Prompt:        opts.Prompt,
		},
		Parameters: wanxiangSubmitParams{
			Resolution:   resolution,
			PromptExtend: true,
		},
	}
	if opts.LastFrameBase64 != "" {
		body.Input.LastFrameURL = dataURI(opts.LastFrameBase64)
	}

	parsed, raw, err := w.call(ctx, http.MethodPost, wanxiangSubmitPath, body)
	if err != nil {
		return "", raw, err
	}
	if parsed.Output == nil || parsed.Output.TaskID == "" {
		return "", raw, fmt.Errorf("wanxiang submit returned no task id")
	}
	w.log.Info("wanxiang task submitted", "task_id", parsed.Output.TaskID, "model", model)
	return parsed.Output.TaskID, raw, nil
}

func (w *Wanxiang) QueryTask(ctx context.Context, taskID string) (TaskStatus, error) {
	if taskID == "" {
		return TaskStatus{}, fmt.Errorf("wanxiang query requires a task id")
	}

	parsed, raw, err := w.call(ctx, http.MethodGet, wanxiangQueryPath+taskID, nil)
	if err != nil {
		return TaskStatus{Raw: raw}, err
	}
	if parsed.Output == nil {
		return TaskStatus{Raw: raw}, fmt.Errorf("wanxiang query returned no output")
	}

	status := TaskStatus{
		TaskID:   taskID,
		State:    wanxiangState(parsed.Output.TaskStatus),
		VideoURL: parsed.Output.VideoURL,
		ErrorMsg: parsed.Output.Message,
		Raw:      raw,
	}
	if status.State == StateFailed && status.ErrorMsg == "" {
		status.ErrorMsg = parsed.Output.Code
	}
	return status, nil
}

// wanxiangState maps the dashscope vocabulary onto the unified set; unknown
// states pass through lowercased so the poll loop keeps going.
func wanxiangState(s string) TaskState {
	switch strings.ToUpper(s) {
	case "PENDING":
		return StateInQueue
	case "RUNNING":
		return StateRunning
	case "SUCCEEDED":
		return StateDone
	case "FAILED":
		return StateFailed
	case "":
		return StateUnknown
	default:
		return TaskState(strings.ToLower(s))
	}
}

func dataURI(b64 string) string {
	if strings.HasPrefix(b64, "data:") {
		return b64
	}
	return "data:image/png;base64," + b64
}

func (w *Wanxiang) call(ctx context.Context, method, path string, body interface{}) (*wanxiangResponse, json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(bodyBytes)
	}

	base := w.baseURL
	if base == "" {
		base = w.cfg.Host
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set("X-DashScope-Async", "enable")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("wanxiang %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("wanxiang read response: %w", err)
	}

	var parsed wanxiangResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, raw, fmt.Errorf("wanxiang returned non-JSON: %.200s", string(raw))
	}
	if parsed.Code != "" && parsed.Code != "200" {
		return nil, raw, fmt.Errorf("wanxiang rejected (code %s): %s", parsed.Code, parsed.Message)
	}
	return &parsed, raw, nil
}

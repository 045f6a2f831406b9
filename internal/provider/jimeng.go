package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

const (
	jimengSubmitAction = "CVSync2AsyncSubmitTask"
	jimengQueryAction  = "CVSync2AsyncGetResult"

	// Vendor-level success code; anything else is a rejected request.
	jimengCodeOK = 10000
)

// Jimeng talks to the volcengine visual API: single source image plus
// numeric seed/frame-count/aspect-ratio, asynchronous submit-then-query.
type Jimeng struct {
	cfg    config.JimengConfig
	client *http.Client
	log    *logger.Logger
	now    func() time.Time

	// baseURL overrides the https://<host> endpoint; used by tests.
	baseURL string
}

func NewJimeng(cfg config.JimengConfig, log *logger.Logger) *Jimeng {
	return &Jimeng{
		cfg:    cfg,
		client: newHTTPClient(30 * time.Second),
		log:    log,
		now:    time.Now,
	}
}

func (j *Jimeng) Name() string { return "jimeng" }

// RequiresLastFrame: the jimeng request shape takes exactly one source image.
func (j *Jimeng) RequiresLastFrame() bool { return false }

type jimengEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type jimengTaskData struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	ErrorMsg string `json:"error_msg"`
}

func (j *Jimeng) SubmitTask(ctx context.Context, opts SubmitOptions) (string, json.RawMessage, error) {
	if opts.FirstFrameBase64 == "" {
		return "", nil, fmt.Errorf("jimeng submit requires a source image")
	}

	prompt := opts.Prompt
	if prompt == "" {
		prompt = "生成动态视频，风格自然流畅"
	}
	seed := opts.Seed
	if seed == 0 {
		seed = 12345
	}
	frames := opts.Frames
	if frames == 0 {
		frames = 121
	}
	aspectRatio := opts.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}

	body := map[string]interface{}{
		"req_key":            j.cfg.ReqKey,
		"prompt":             prompt,
		"binary_data_base64": []string{opts.FirstFrameBase64},
		"seed":               seed,
		"frames":             frames,
		"aspect_ratio":       aspectRatio,
	}

	envelope, raw, err := j.call(ctx, jimengSubmitAction, body)
	if err != nil {
		return "", raw, err
	}

	var data jimengTaskData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return "", raw, fmt.Errorf("jimeng submit returned malformed data: %w", err)
	}
	if data.TaskID == "" {
		return "", raw, fmt.Errorf("jimeng submit returned no task id")
	}
	j.log.Info("jimeng task submitted", "task_id", data.TaskID)
	return data.TaskID, raw, nil
}

func (j *Jimeng) QueryTask(ctx context.Context, taskID string) (TaskStatus, error) {
	if taskID == "" {
		return TaskStatus{}, fmt.Errorf("jimeng query requires a task id")
	}

	body := map[string]interface{}{
		"req_key": j.cfg.ReqKey,
		"task_id": taskID,
	}
	envelope, raw, err := j.call(ctx, jimengQueryAction, body)
	if err != nil {
		return TaskStatus{Raw: raw}, err
	}

	var data jimengTaskData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return TaskStatus{Raw: raw}, fmt.Errorf("jimeng query returned malformed data: %w", err)
	}

	return TaskStatus{
		TaskID:   taskID,
		State:    jimengState(data.Status),
		VideoURL: data.VideoURL,
		ErrorMsg: data.ErrorMsg,
		Raw:      raw,
	}, nil
}

// jimengState passes the vendor vocabulary through: the known states map
// onto the unified set and anything else survives verbatim so the poll loop
// keeps going.
func jimengState(s string) TaskState {
	switch strings.ToLower(s) {
	case "in_queue":
		return StateInQueue
	case "running", "generating":
		return StateRunning
	case "done":
		return StateDone
	case "failed", "not_found":
		return StateFailed
	case "expired", "timeout":
		return StateTimeout
	case "":
		return StateUnknown
	default:
		return TaskState(strings.ToLower(s))
	}
}

func (j *Jimeng) call(ctx context.Context, action string, body map[string]interface{}) (*jimengEnvelope, json.RawMessage, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}

	query := url.Values{}
	query.Set("Version", j.cfg.Version)
	query.Set("Action", action)

	datetime := signDateTime(j.now())
	headers := map[string]string{
		"X-Date": datetime,
		"Host":   j.cfg.Host,
	}
	authorization := sign(signInput{
		Headers:         headers,
		Query:           query,
		Region:          j.cfg.Region,
		Service:         j.cfg.ServiceName,
		Method:          http.MethodPost,
		PathName:        "/",
		AccessKeyID:     j.cfg.AccessKeyID,
		SecretAccessKey: j.cfg.SecretAccessKey,
		BodySha:         hashSHA256(string(bodyBytes)),
	}, datetime)

	base := j.baseURL
	if base == "" {
		base = "https://" + j.cfg.Host
	}
	requestURL := fmt.Sprintf("%s/?%s", base, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("jimeng %s request failed: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("jimeng %s read response: %w", action, err)
	}

	var envelope jimengEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, raw, fmt.Errorf("jimeng %s returned non-JSON: %.200s", action, string(raw))
	}
	if envelope.Code != jimengCodeOK {
		return nil, raw, fmt.Errorf("jimeng %s rejected (code %d): %s", action, envelope.Code, envelope.Message)
	}
	return &envelope, raw, nil
}

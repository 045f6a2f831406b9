package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string            { return s.name }
func (s *stubProvider) RequiresLastFrame() bool { return false }
func (s *stubProvider) SubmitTask(context.Context, SubmitOptions) (string, json.RawMessage, error) {
	return "", nil, nil
}
func (s *stubProvider) QueryTask(context.Context, string) (TaskStatus, error) {
	return TaskStatus{}, nil
}

func TestRegistryRoutesByModelID(t *testing.T) {
	jimeng := &stubProvider{name: "jimeng"}
	wanxiang := &stubProvider{name: "wanxiang"}

	r := NewRegistry(jimeng)
	r.RegisterPrefix("jimeng", jimeng)
	r.RegisterPrefix("wanx", wanxiang)
	r.Register("wan2.1-kf2v-plus", wanxiang)

	assert.Equal(t, "jimeng", r.ForModel("jimeng_ti2v_v30_pro").Name())
	assert.Equal(t, "wanxiang", r.ForModel("wanx2.1-kf2v-plus").Name())
	assert.Equal(t, "wanxiang", r.ForModel("WAN2.1-KF2V-PLUS").Name())
	assert.Equal(t, "jimeng", r.ForModel("").Name())
	assert.Equal(t, "jimeng", r.ForModel("something-else").Name())
}

func TestTaskStateTerminality(t *testing.T) {
	assert.True(t, StateDone.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateTimeout.IsTerminal())
	assert.False(t, StateInQueue.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.False(t, TaskState("canceled").IsTerminal(), "pass-through vendor states keep polling")
}

func TestSignIsDeterministic(t *testing.T) {
	in := signInput{
		Headers:         map[string]string{"X-Date": "20250820T123456Z", "Host": "visual.volcengineapi.com"},
		Query:           map[string][]string{"Action": {"CVSync2AsyncSubmitTask"}, "Version": {"2022-08-31"}},
		Region:          "cn-north-1",
		Service:         "cv",
		Method:          http.MethodPost,
		PathName:        "/",
		AccessKeyID:     "AKTEST",
		SecretAccessKey: "secret",
		BodySha:         hashSHA256(`{"req_key":"x"}`),
	}

	first := sign(in, "20250820T123456Z")
	second := sign(in, "20250820T123456Z")
	assert.Equal(t, first, second)

	assert.Contains(t, first, "HMAC-SHA256 Credential=AKTEST/20250820/cn-north-1/cv/request,")
	assert.Contains(t, first, "SignedHeaders=host;x-date,")
	assert.Contains(t, first, "Signature=")
}

func TestUriEscapeRules(t *testing.T) {
	assert.Equal(t, "a%20b", uriEscape("a b"))
	assert.Equal(t, "%2A", uriEscape("*"))
	assert.Equal(t, "~", uriEscape("~"))
	assert.Equal(t, "a-b_c.d", uriEscape("a-b_c.d"))
}

func newJimengTest(t *testing.T, handler http.Handler) (*Jimeng, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Jimeng
	cfg.AccessKeyID = "AKTEST"
	cfg.SecretAccessKey = "secret"
	j := NewJimeng(cfg, logger.NewNop())
	j.baseURL = srv.URL
	j.now = func() time.Time { return time.Date(2025, 8, 20, 12, 34, 56, 0, time.UTC) }
	return j, srv
}

func TestJimengSubmitDefaultsAndTaskID(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	j, _ := newJimengTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, jimengSubmitAction, r.URL.Query().Get("Action"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 10000, "message": "ok",
			"data": map[string]string{"task_id": "task-123"},
		})
	}))

	taskID, raw, err := j.SubmitTask(context.Background(), SubmitOptions{FirstFrameBase64: "AAA"})
	require.NoError(t, err)
	assert.Equal(t, "task-123", taskID)
	assert.NotEmpty(t, raw)

	assert.Equal(t, "生成动态视频，风格自然流畅", gotBody["prompt"])
	assert.EqualValues(t, 12345, gotBody["seed"])
	assert.EqualValues(t, 121, gotBody["frames"])
	assert.Equal(t, "16:9", gotBody["aspect_ratio"])
	assert.Equal(t, []interface{}{"AAA"}, gotBody["binary_data_base64"])
	assert.Contains(t, gotAuth, "Credential=AKTEST/20250820/cn-north-1/cv/request")
}

func TestJimengSubmitRejectsMissingImage(t *testing.T) {
	j, _ := newJimengTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	_, _, err := j.SubmitTask(context.Background(), SubmitOptions{})
	require.Error(t, err)
}

func TestJimengSubmitSurfacesVendorError(t *testing.T) {
	j, _ := newJimengTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 50411, "message": "image decode failed",
		})
	}))
	_, _, err := j.SubmitTask(context.Background(), SubmitOptions{FirstFrameBase64: "AAA"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image decode failed")
}

func TestJimengQueryMapsStates(t *testing.T) {
	status := "generating"
	j, _ := newJimengTest(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, jimengQueryAction, r.URL.Query().Get("Action"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 10000, "message": "ok",
			"data": map[string]string{"task_id": "task-123", "status": status, "video_url": ""},
		})
	}))

	got, err := j.QueryTask(context.Background(), "task-123")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)

	status = "done"
	got, err = j.QueryTask(context.Background(), "task-123")
	require.NoError(t, err)
	assert.Equal(t, StateDone, got.State)
}

func TestJimengStateVocabulary(t *testing.T) {
	assert.Equal(t, StateInQueue, jimengState("in_queue"))
	assert.Equal(t, StateRunning, jimengState("generating"))
	assert.Equal(t, StateFailed, jimengState("not_found"))
	assert.Equal(t, StateTimeout, jimengState("expired"))
	assert.Equal(t, StateUnknown, jimengState(""))
	assert.Equal(t, TaskState("queued_for_review"), jimengState("QUEUED_FOR_REVIEW"))
}

func newWanxiangTest(t *testing.T, handler http.Handler) *Wanxiang {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Wanxiang
	cfg.APIKey = "sk-test"
	w := NewWanxiang(cfg, logger.NewNop())
	w.baseURL = srv.URL
	return w
}

func TestWanxiangSubmitSendsBothFrames(t *testing.T) {
	var got wanxiangSubmitRequest
	w := newWanxiangTest(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, wanxiangSubmitPath, r.URL.Path)
		require.Equal(t, "enable", r.Header.Get("X-DashScope-Async"))
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(rw).Encode(map[string]interface{}{
			"output": map[string]string{"task_id": "wx-1", "task_status": "PENDING"},
		})
	}))

	taskID, _, err := w.SubmitTask(context.Background(), SubmitOptions{
		FirstFrameBase64: "FIRST",
		LastFrameBase64:  "LAST",
		Prompt:           "sunset",
	})
	require.NoError(t, err)
	assert.Equal(t, "wx-1", taskID)
	assert.Equal(t, "data:image/png;base64,FIRST", got.Input.FirstFrameURL)
	assert.Equal(t, "data:image/png;base64,LAST", got.Input.LastFrameURL)
	assert.Equal(t, "sunset", got.Input.Prompt)
	assert.Equal(t, "720P", got.Parameters.Resolution)
	assert.True(t, got.Parameters.PromptExtend)
}

func TestWanxiangSubmitProceedsWithoutLastFrame(t *testing.T) {
	var got wanxiangSubmitRequest
	w := newWanxiangTest(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(rw).Encode(map[string]interface{}{
			"output": map[string]string{"task_id": "wx-2", "task_status": "PENDING"},
		})
	}))

	require.True(t, w.RequiresLastFrame())
	taskID, _, err := w.SubmitTask(context.Background(), SubmitOptions{FirstFrameBase64: "FIRST"})
	require.NoError(t, err, "missing last frame must not block the submission")
	assert.Equal(t, "wx-2", taskID)
	assert.Empty(t, got.Input.LastFrameURL)
}

func TestWanxiangSubmitSurfacesBusinessError(t *testing.T) {
	w := newWanxiangTest(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		json.NewEncoder(rw).Encode(map[string]interface{}{
			"code": "InvalidParameter", "message": "resolution not supported",
		})
	}))

	_, _, err := w.SubmitTask(context.Background(), SubmitOptions{FirstFrameBase64: "FIRST"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolution not supported")
}

func TestWanxiangQueryMapsStates(t *testing.T) {
	responses := []map[string]interface{}{
		{"output": map[string]string{"task_id": "wx-1", "task_status": "RUNNING"}},
		{"output": map[string]string{"task_id": "wx-1", "task_status": "SUCCEEDED", "video_url": "https://cdn/out.mp4"}},
		{"output": map[string]string{"task_id": "wx-1", "task_status": "FAILED", "code": "InternalError"}},
	}
	i := 0
	w := newWanxiangTest(t, http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		require.Equal(t, wanxiangQueryPath+"wx-1", r.URL.Path)
		json.NewEncoder(rw).Encode(responses[i])
		i++
	}))

	got, err := w.QueryTask(context.Background(), "wx-1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)

	got, err = w.QueryTask(context.Background(), "wx-1")
	require.NoError(t, err)
	assert.Equal(t, StateDone, got.State)
	assert.Equal(t, "https://cdn/out.mp4", got.VideoURL)

	got, err = w.QueryTask(context.Background(), "wx-1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "InternalError", got.ErrorMsg)
}

func TestWanxiangStateVocabulary(t *testing.T) {
	assert.Equal(t, StateInQueue, wanxiangState("PENDING"))
	assert.Equal(t, StateDone, wanxiangState("SUCCEEDED"))
	assert.Equal(t, TaskState("canceled"), wanxiangState("CANCELED"))
	assert.Equal(t, StateUnknown, wanxiangState(""))
}

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mediagraph/mediagraph/internal/graph"
	"github.com/mediagraph/mediagraph/internal/provider"
	"github.com/mediagraph/mediagraph/internal/workflow"
)

// Every response uses the same envelope; clients treat any non-zero code as
// failure regardless of HTTP status.
type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, envelope{Code: 0, Message: message, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, envelope{Code: -1, Message: message, Data: nil})
}

type submitRequest struct {
	Model            string `json:"model"`
	Prompt           string `json:"prompt"`
	ImageBase64      string `json:"imageBase64"`
	FirstFrameBase64 string `json:"firstFrameBase64"`
	LastFrameBase64  string `json:"lastFrameBase64"`
	Seed             int    `json:"seed"`
	Frames           int    `json:"frames"`
	AspectRatio      string `json:"aspect_ratio"`
}

func (s *Server) SubmitTask(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	first := req.FirstFrameBase64
	if first == "" {
		first = req.ImageBase64
	}
	if first == "" {
		fail(c, http.StatusBadRequest, "imageBase64 is required")
		return
	}

	p := s.registry.ForModel(req.Model)
	taskID, raw, err := p.SubmitTask(c.Request.Context(), provider.SubmitOptions{
		Prompt:           req.Prompt,
		FirstFrameBase64: first,
		LastFrameBase64:  req.LastFrameBase64,
		Seed:             req.Seed,
		Frames:           req.Frames,
		AspectRatio:      req.AspectRatio,
		Model:            req.Model,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("task submit failed: %v", err))
		return
	}

	ok(c, "task submitted", gin.H{
		"taskId":      taskID,
		"model":       p.Name(),
		"rawResponse": json.RawMessage(raw),
	})
}

type queryRequest struct {
	TaskID string `json:"taskId"`
	Model  string `json:"model"`
}

func (s *Server) QueryTask(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TaskID == "" {
		fail(c, http.StatusBadRequest, "taskId is required")
		return
	}

	p := s.registry.ForModel(req.Model)
	status, err := p.QueryTask(c.Request.Context(), req.TaskID)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("task query failed: %v", err))
		return
	}

	localVideoPath := ""
	if status.State == provider.StateDone && status.VideoURL != "" {
		name, err := s.ensureLocalVideo(c, p, req.TaskID, status.VideoURL)
		if err != nil {
			s.log.Warn("video download failed", "task_id", req.TaskID, "error", err)
		} else {
			localVideoPath = s.cfg.Server.PublicBaseURL + "/ti2v_videos/" + name
		}
	}

	ok(c, "task queried", gin.H{
		"taskId":         req.TaskID,
		"taskStatus":     string(status.State),
		"videoUrl":       status.VideoURL,
		"localVideoPath": localVideoPath,
		"errorMsg":       status.ErrorMsg,
		"rawResponse":    json.RawMessage(status.Raw),
	})
}

// ensureLocalVideo downloads the finished video once; later queries find the
// existing file by task id.
func (s *Server) ensureLocalVideo(c *gin.Context, p provider.Provider, taskID, videoURL string) (string, error) {
	if name, found := s.findLocalVideo(taskID); found {
		return name, nil
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, videoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.download.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	name := fmt.Sprintf("%s_%d.mp4", taskID, s.now().UnixMilli())
	if p.Name() == "wanxiang" {
		name = "wanxiang_" + name
	}
	if err := os.MkdirAll(s.cfg.Server.DownloadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.Server.DownloadDir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	if _, err := s.cache.RecordUpload(path); err != nil {
		s.log.Warn("digest record failed", "path", path, "error", err)
	}
	s.log.Info("video downloaded", "task_id", taskID, "file", name)
	return name, nil
}

// findLocalVideo matches downloads by the <taskID>_<timestamp>.mp4 naming
// convention; a bare substring check would cross-match task ids that prefix
// one another.
func (s *Server) findLocalVideo(taskID string) (string, bool) {
	files, err := os.ReadDir(s.cfg.Server.DownloadDir)
	if err != nil {
		return "", false
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".mp4") {
			continue
		}
		if strings.HasPrefix(strings.TrimPrefix(name, "wanxiang_"), taskID+"_") {
			return name, true
		}
	}
	return "", false
}

func (s *Server) DownloadVideo(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		fail(c, http.StatusBadRequest, "taskId is required")
		return
	}

	name, found := s.findLocalVideo(taskID)
	if !found {
		fail(c, http.StatusNotFound, fmt.Sprintf("no video found for task %s", taskID))
		return
	}
	c.FileAttachment(filepath.Join(s.cfg.Server.DownloadDir, name), name)
}

type checkExistRequest struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

func (s *Server) CheckExist(c *gin.Context) {
	var req checkExistRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Hash == "" {
		fail(c, http.StatusBadRequest, "hash and size are required")
		return
	}

	rel, found := s.cache.FindByDigest(req.Hash, req.Size)
	if !found {
		ok(c, "not found", gin.H{"exists": false})
		return
	}
	ok(c, "found", gin.H{
		"exists": true,
		"path":   "/ti2v_videos/" + filepath.ToSlash(rel),
	})
}

func (s *Server) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "no upload file found")
		return
	}

	ext := filepath.Ext(file.Filename)
	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString()[:12], ext)
	if err := os.MkdirAll(s.cfg.Server.DownloadDir, 0o755); err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("upload failed: %v", err))
		return
	}
	path := filepath.Join(s.cfg.Server.DownloadDir, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("upload failed: %v", err))
		return
	}

	if _, err := s.cache.RecordUpload(path); err != nil {
		s.log.Warn("digest record failed", "path", path, "error", err)
	}

	ok(c, "uploaded", gin.H{
		"path":         "/ti2v_videos/" + name,
		"originalName": file.Filename,
		"size":         file.Size,
	})
}

func (s *Server) CacheStats(c *gin.Context) {
	count, initialized := s.cache.Stats()
	ok(c, "cache stats", gin.H{
		"fileCount":   count,
		"initialized": initialized,
	})
}

func (s *Server) CacheClear(c *gin.Context) {
	if err := s.cache.Clear(); err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("cache clear failed: %v", err))
		return
	}
	ok(c, "cache cleared", nil)
}

func (s *Server) Health(c *gin.Context) {
	ok(c, "service healthy", gin.H{
		"port":        s.cfg.Server.Port,
		"time":        s.now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		"downloadDir": s.cfg.Server.DownloadDir,
	})
}

type saveWorkflowRequest struct {
	ID       string            `json:"id"`
	Nodes    []graph.Node      `json:"nodes"`
	Edges    []graph.Edge      `json:"edges"`
	Timeline workflow.Timeline `json:"timeline"`
	FilePath string            `json:"filePath"`
}

func (s *Server) SaveWorkflow(c *gin.Context) {
	if s.archive == nil {
		fail(c, http.StatusServiceUnavailable, "workflow archive not configured")
		return
	}

	var req saveWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Nodes == nil {
		fail(c, http.StatusBadRequest, "nodes are required")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	doc := s.codec.Save(req.Nodes, req.Edges, req.Timeline, req.FilePath)
	if err := s.archive.UpsertWorkflow(c.Request.Context(), id, doc); err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("workflow save failed: %v", err))
		return
	}

	ok(c, "workflow saved", gin.H{"id": id, "timestamp": doc.Timestamp})
}

func (s *Server) LoadWorkflow(c *gin.Context) {
	if s.archive == nil {
		fail(c, http.StatusServiceUnavailable, "workflow archive not configured")
		return
	}

	doc, err := s.archive.LoadWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, fmt.Sprintf("workflow load failed: %v", err))
		return
	}
	ok(c, "workflow loaded", doc)
}

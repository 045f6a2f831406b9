package graph

// NodeType enumerates the node kinds the editor places on the canvas.
type NodeType string

const (
	NodeImageInput NodeType = "image-input"
	NodeVideoInput NodeType = "video-input"
	NodeImageGen   NodeType = "image-gen"
	NodeVideoGen   NodeType = "video-gen"
)

// IsGenerator reports whether the node produces new media from upstream
// inputs and a prompt.
func (t NodeType) IsGenerator() bool {
	return t == NodeImageGen || t == NodeVideoGen
}

// IsUpstreamSource reports whether a node of this type can feed a generator.
func (t NodeType) IsUpstreamSource() bool {
	switch t {
	case NodeImageInput, NodeVideoInput, NodeImageGen, NodeVideoGen:
		return true
	}
	return false
}

// isVideoKind reports whether the node's displayable output is a video, in
// which case its still-image representative is the decoded last frame.
func (t NodeType) isVideoKind() bool {
	return t == NodeVideoInput || t == NodeVideoGen
}

type NodeStatus string

const (
	StatusIdle      NodeStatus = "idle"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusError     NodeStatus = "error"
)

// Position is a UI concern carried opaquely through the model.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InputPreviewItem is one resolved upstream media reference for a generator
// node. Derived state: never authored directly, always recomputed from the
// edge set and the source nodes' data.
type InputPreviewItem struct {
	SourceNodeID  string `json:"nodeId"`
	Preview       string `json:"preview"`
	FileName      string `json:"fileName"`
	IsLastFrame   bool   `json:"isLastFrame,omitempty"`
	IsVideoSource bool   `json:"isVideoSource,omitempty"`
}

// NodeData holds the per-node payload. Field presence depends on the node
// type; zero values stand in for absent fields.
type NodeData struct {
	Label       string     `json:"label"`
	Description string     `json:"description,omitempty"`
	Status      NodeStatus `json:"status"`
	Width       float64    `json:"width,omitempty"`
	Height      float64    `json:"height,omitempty"`

	// Input nodes.
	Preview    string `json:"preview,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	VideoURL   string `json:"videoUrl,omitempty"`
	LastFrame  string `json:"lastFrame,omitempty"`
	ServerPath string `json:"serverPath,omitempty"`

	// Generator nodes.
	Model            string             `json:"model,omitempty"`
	InputText        string             `json:"inputText,omitempty"`
	InputPreviews    []InputPreviewItem `json:"inputPreviews,omitempty"`
	AspectRatio      string             `json:"aspectRatio,omitempty"`
	Duration         int                `json:"duration,omitempty"`
	SequenceNumber   *int               `json:"sequenceNumber,omitempty"`
	TaskID           string             `json:"taskId,omitempty"`
	LastRequestError string             `json:"lastRequestError,omitempty"`
}

type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// DataPatch is a shallow merge into NodeData: nil fields are left untouched.
type DataPatch struct {
	Label            *string
	Description      *string
	Status           *NodeStatus
	Width            *float64
	Height           *float64
	Preview          *string
	FileName         *string
	FileSize         *int64
	VideoURL         *string
	LastFrame        *string
	ServerPath       *string
	Model            *string
	InputText        *string
	InputPreviews    *[]InputPreviewItem
	AspectRatio      *string
	Duration         *int
	TaskID           *string
	LastRequestError *string
}

func (p DataPatch) apply(d *NodeData) {
	if p.Label != nil {
		d.Label = *p.Label
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Width != nil {
		d.Width = *p.Width
	}
	if p.Height != nil {
		d.Height = *p.Height
	}
	if p.Preview != nil {
		d.Preview = *p.Preview
	}
	if p.FileName != nil {
		d.FileName = *p.FileName
	}
	if p.FileSize != nil {
		d.FileSize = *p.FileSize
	}
	if p.VideoURL != nil {
		d.VideoURL = *p.VideoURL
	}
	if p.LastFrame != nil {
		d.LastFrame = *p.LastFrame
	}
	if p.ServerPath != nil {
		d.ServerPath = *p.ServerPath
	}
	if p.Model != nil {
		d.Model = *p.Model
	}
	if p.InputText != nil {
		d.InputText = *p.InputText
	}
	if p.InputPreviews != nil {
		d.InputPreviews = append([]InputPreviewItem(nil), (*p.InputPreviews)...)
	}
	if p.AspectRatio != nil {
		d.AspectRatio = *p.AspectRatio
	}
	if p.Duration != nil {
		d.Duration = *p.Duration
	}
	if p.TaskID != nil {
		d.TaskID = *p.TaskID
	}
	if p.LastRequestError != nil {
		d.LastRequestError = *p.LastRequestError
	}
}

// touchesDisplayFields reports whether the patch changes a field that feeds
// preview derivation for downstream generators.
func (p DataPatch) touchesDisplayFields() bool {
	return p.Preview != nil || p.FileName != nil || p.LastFrame != nil || p.VideoURL != nil
}

// Ptr helpers for building patches inline.
func StrPtr(s string) *string            { return &s }
func IntPtr(n int) *int                  { return &n }
func Int64Ptr(n int64) *int64            { return &n }
func StatusPtr(s NodeStatus) *NodeStatus { return &s }

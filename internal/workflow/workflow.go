package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mediagraph/mediagraph/internal/graph"
)

const Version = "1.0"

// TimelineItem is one composable clip on the timeline, ordered by the owning
// node's sequence number.
type TimelineItem struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	Preview        string `json:"preview"`
	SequenceNumber int    `json:"sequenceNumber"`
}

type Timeline struct {
	Items            []TimelineItem `json:"items"`
	SelectedItems    []string       `json:"selectedItems"`
	ComposedVideoURL string         `json:"composedVideoUrl"`
}

// Document is the persisted workflow format.
type Document struct {
	Version   string       `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Nodes     []graph.Node `json:"nodes"`
	Edges     []graph.Edge `json:"edges"`
	Timeline  Timeline     `json:"timeline"`
	FilePath  string       `json:"filePath,omitempty"`
}

// Codec saves and loads workflow documents, normalizing media URIs against
// the server's public base URL on the way through.
type Codec struct {
	publicBaseURL string
}

func NewCodec(publicBaseURL string) *Codec {
	return &Codec{publicBaseURL: strings.TrimSuffix(publicBaseURL, "/")}
}

// Save builds the persisted document: server paths preferred over transient
// URIs, fully-qualified URLs made relative, lastFrame always cleared and
// re-derived on load.
func (c *Codec) Save(nodes []graph.Node, edges []graph.Edge, timeline Timeline, filePath string) *Document {
	saved := make([]graph.Node, len(nodes))
	for i, n := range nodes {
		saved[i] = n
		saved[i].Data = c.normalizeForSave(n.Data)
	}
	return &Document{
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Nodes:     saved,
		Edges:     append([]graph.Edge(nil), edges...),
		Timeline:  timeline,
		FilePath:  filePath,
	}
}

func (c *Codec) normalizeForSave(d graph.NodeData) graph.NodeData {
	if d.ServerPath != "" {
		d.Preview = d.ServerPath
		d.VideoURL = d.ServerPath
	} else if c.publicBaseURL != "" && strings.HasPrefix(d.Preview, c.publicBaseURL+"/") {
		d.Preview = strings.TrimPrefix(d.Preview, c.publicBaseURL)
		if d.VideoURL != "" {
			d.VideoURL = strings.TrimPrefix(d.VideoURL, c.publicBaseURL)
		} else {
			d.VideoURL = d.Preview
		}
	}
	d.LastFrame = ""
	return d
}

// Encode marshals the document with indentation, the on-disk form.
func (c *Codec) Encode(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Load parses and validates a persisted document, requalifying
// server-relative media paths against the public base URL.
func (c *Codec) Load(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workflow file is not valid JSON: %w", err)
	}
	if doc.Version == "" || doc.Nodes == nil {
		return nil, fmt.Errorf("invalid workflow file format")
	}

	for i := range doc.Nodes {
		doc.Nodes[i].Data = c.requalify(doc.Nodes[i].Data)
	}
	return &doc, nil
}

func (c *Codec) requalify(d graph.NodeData) graph.NodeData {
	if c.publicBaseURL == "" {
		return d
	}
	if strings.HasPrefix(d.Preview, "/") {
		d.Preview = c.publicBaseURL + d.Preview
	}
	if strings.HasPrefix(d.VideoURL, "/") {
		d.VideoURL = c.publicBaseURL + d.VideoURL
	}
	return d
}

package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mediagraph/mediagraph/internal/graph"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

// FrameDecoder yields a video source's final frame as encoded JPEG bytes.
type FrameDecoder interface {
	LastFrame(ctx context.Context, src string) ([]byte, error)
}

// Extractor turns resolved generator inputs into bare base64 still-image
// payloads (no data-URI prefix), the form the providers take on the wire.
type Extractor struct {
	client  *http.Client
	decoder FrameDecoder
	log     *logger.Logger
}

func NewExtractor(decoder FrameDecoder, log *logger.Logger) *Extractor {
	return &Extractor{
		client:  &http.Client{Timeout: 30 * time.Second},
		decoder: decoder,
		log:     log,
	}
}

// StillImage extracts one input's still-image payload. Inline data URIs pass
// straight through; remote references are fetched and encoded; video sources
// contribute their final decoded frame.
func (e *Extractor) StillImage(ctx context.Context, item graph.InputPreviewItem) (string, error) {
	uri := item.Preview
	if uri == "" {
		return "", &DecodeError{URL: uri, Err: fmt.Errorf("empty source URI")}
	}

	if item.IsVideoSource {
		frame, err := e.decoder.LastFrame(ctx, uri)
		if err != nil {
			return "", &VideoLoadError{URL: uri, Err: err}
		}
		return base64.StdEncoding.EncodeToString(frame), nil
	}

	if strings.HasPrefix(uri, "data:") {
		payload, ok := splitDataURI(uri)
		if !ok {
			return "", &DecodeError{URL: truncateURI(uri), Err: fmt.Errorf("malformed data URI")}
		}
		return payload, nil
	}

	return e.fetchAsBase64(ctx, uri)
}

// FramePair prepares the first/last frame payloads for a submission. The
// first resolved input is always required; the second is extracted only when
// the provider wants a last frame and a second input actually resolved.
func (e *Extractor) FramePair(ctx context.Context, items []graph.InputPreviewItem, wantLast bool) (first, last string, err error) {
	if len(items) == 0 || items[0].Preview == "" {
		return "", "", &MissingInputError{Position: 0}
	}

	first, err = e.StillImage(ctx, items[0])
	if err != nil {
		return "", "", err
	}

	if wantLast && len(items) > 1 && items[1].Preview != "" {
		last, err = e.StillImage(ctx, items[1])
		if err != nil {
			return "", "", err
		}
	}
	return first, last, nil
}

func (e *Extractor) fetchAsBase64(ctx context.Context, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", &FetchError{URL: uri, Err: err}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{URL: uri, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FetchError{URL: uri, Err: err}
	}
	if len(body) == 0 {
		return "", &DecodeError{URL: uri, Err: fmt.Errorf("empty response body")}
	}
	return base64.StdEncoding.EncodeToString(body), nil
}

// splitDataURI returns the payload after the "base64," marker.
func splitDataURI(uri string) (string, bool) {
	i := strings.Index(uri, "base64,")
	if i < 0 {
		return "", false
	}
	payload := uri[i+len("base64,"):]
	if payload == "" {
		return "", false
	}
	return payload, true
}

func truncateURI(uri string) string {
	if len(uri) > 64 {
		return uri[:64] + "..."
	}
	return uri
}

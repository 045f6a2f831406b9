package media

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

// Fallback canvas dimensions when no source reports its own.
const (
	defaultCanvasWidth  = 1280
	defaultCanvasHeight = 720
)

// SourceDecoder opens a media source as an ordered frame stream.
type SourceDecoder interface {
	Open(ctx context.Context, src string) (FrameStream, error)
}

// FrameStream yields decoded frames in order. Next returns io.EOF when the
// source is exhausted.
type FrameStream interface {
	Bounds() (width, height int)
	Next() (image.Image, error)
	Close() error
}

// StreamEncoder captures canvas frames into a single output stream.
type StreamEncoder interface {
	Start(width, height, fps int) error
	WriteFrame(img image.Image) error
	Close() (outputPath string, err error)
}

// Progress is reported after each source finishes.
type Progress struct {
	Current     int  `json:"current"`
	Total       int  `json:"total"`
	IsComposing bool `json:"isComposing"`
}

// Composer concatenates an ordered list of sources onto a shared canvas and
// re-encodes them as one video. Sources that fail to open are skipped, never
// fatal; the whole run fails only when nothing was decodable.
type Composer struct {
	decoder     SourceDecoder
	log         *logger.Logger
	loadTimeout time.Duration
	fps         int
	onProgress  func(Progress)
}

func NewComposer(decoder SourceDecoder, cfg config.MediaConfig, log *logger.Logger) *Composer {
	return &Composer{
		decoder:     decoder,
		log:         log,
		loadTimeout: cfg.LoadTimeout.Std(),
		fps:         cfg.ComposeFPS,
	}
}

// OnProgress installs the progress callback.
func (c *Composer) OnProgress(fn func(Progress)) { c.onProgress = fn }

// Compose runs the sources through enc strictly in the caller's order.
func (c *Composer) Compose(ctx context.Context, sources []string, enc StreamEncoder) (string, error) {
	if len(sources) < 2 {
		return "", fmt.Errorf("composition needs at least 2 sources, got %d", len(sources))
	}

	total := len(sources)
	c.report(Progress{Current: 0, Total: total, IsComposing: true})

	var dc *gg.Context
	var canvas *image.RGBA
	started := false
	decoded := 0

	// abort reaps the encoder's resources once Start has succeeded; without
	// it a failed run leaves the encoding process un-waited.
	abort := func() {
		if started {
			_, _ = enc.Close()
		}
		c.report(Progress{})
	}

	for i, src := range sources {
		if ctx.Err() != nil {
			abort()
			return "", ctx.Err()
		}

		stream, err := c.open(ctx, src)
		if err != nil {
			c.log.Warn("source skipped", "source", src, "error", err)
			c.report(Progress{Current: i + 1, Total: total, IsComposing: true})
			continue
		}

		if !started {
			w, h := stream.Bounds()
			if w <= 0 || h <= 0 {
				w, h = defaultCanvasWidth, defaultCanvasHeight
			}
			dc = gg.NewContext(w, h)
			dc.SetRGB(0, 0, 0)
			dc.Clear()
			canvas = dc.Image().(*image.RGBA)

			if err := enc.Start(w, h, c.fps); err != nil {
				_ = stream.Close()
				c.report(Progress{})
				return "", fmt.Errorf("encoder start: %w", err)
			}
			started = true
		}

		if err := c.drain(ctx, stream, canvas, enc); err != nil {
			_ = stream.Close()
			abort()
			return "", err
		}
		_ = stream.Close()
		decoded++
		c.report(Progress{Current: i + 1, Total: total, IsComposing: true})
	}

	if !started || decoded == 0 {
		c.report(Progress{})
		return "", fmt.Errorf("no source could be decoded")
	}

	path, err := enc.Close()
	if err != nil {
		c.report(Progress{})
		return "", fmt.Errorf("encoder close: %w", err)
	}

	c.report(Progress{Current: total, Total: total, IsComposing: false})
	c.log.Info("composition finished", "sources", decoded, "output", path)
	return path, nil
}

func (c *Composer) open(ctx context.Context, src string) (FrameStream, error) {
	openCtx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()
	return c.decoder.Open(openCtx, src)
}

// drain draws every frame of the stream onto the shared canvas, stretched to
// the canvas dimensions, and hands the canvas to the encoder.
func (c *Composer) drain(ctx context.Context, stream FrameStream, canvas *image.RGBA, enc StreamEncoder) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Mid-stream decode errors end this source, not the run.
			c.log.Warn("frame decode stopped early", "error", err)
			return nil
		}

		xdraw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), frame, frame.Bounds(), xdraw.Src, nil)
		if err := enc.WriteFrame(canvas); err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
	}
}

func (c *Composer) report(p Progress) {
	if c.onProgress != nil {
		c.onProgress(p)
	}
}

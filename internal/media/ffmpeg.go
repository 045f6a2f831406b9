package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mediagraph/mediagraph/internal/config"
	"github.com/mediagraph/mediagraph/internal/platform/logger"
)

// FFmpeg wraps the ffmpeg/ffprobe binaries as a FrameDecoder and
// SourceDecoder. All probe calls are bounded by the configured load timeout;
// full decodes run under the caller's context.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	loadTimeout time.Duration
	log         *logger.Logger
}

func NewFFmpeg(cfg config.MediaConfig, log *logger.Logger) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		loadTimeout: cfg.LoadTimeout.Std(),
		log:         log,
	}
}

// LastFrame seeks near the end of the video and decodes one JPEG frame.
func (f *FFmpeg) LastFrame(ctx context.Context, src string) ([]byte, error) {
	duration, err := f.probeDuration(ctx, src)
	if err != nil {
		return nil, err
	}

	seek := duration - 100*time.Millisecond
	if seek < 0 {
		seek = 0
	}

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.ffmpegPath,
		"-ss", fmt.Sprintf("%.3f", seek.Seconds()),
		"-i", src,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"pipe:1",
	)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame extract: %w (%s)", err, lastLine(stderr.String()))
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no frame for %s", src)
	}
	return out.Bytes(), nil
}

func (f *FFmpeg) probeDuration(ctx context.Context, src string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, f.loadTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		src,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration unparseable: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (f *FFmpeg) probeDimensions(ctx context.Context, src string) (w, h int, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.loadTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		src,
	).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe dimensions: %w", err)
	}
	parts := strings.SplitN(strings.TrimSpace(string(out)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("ffprobe dimensions unparseable: %q", string(out))
	}
	if w, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, err
	}
	if h, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, err
	}
	return w, h, nil
}

// Open starts a rawvideo decode of the source and exposes it frame by frame.
// ctx bounds the dimension probe only; the decode outlives it and is torn
// down by the stream's Close.
func (f *FFmpeg) Open(ctx context.Context, src string) (FrameStream, error) {
	w, h, err := f.probeDimensions(ctx, src)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(f.ffmpegPath,
		"-i", src,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode start: %w", err)
	}

	return &ffmpegStream{
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, w*4),
		width:  w,
		height: h,
	}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	width  int
	height int
}

func (s *ffmpegStream) Bounds() (int, int) { return s.width, s.height }

func (s *ffmpegStream) Next() (image.Image, error) {
	buf := make([]byte, s.width*s.height*4)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return &image.RGBA{
		Pix:    buf,
		Stride: s.width * 4,
		Rect:   image.Rect(0, 0, s.width, s.height),
	}, nil
}

func (s *ffmpegStream) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

// NewEncoder builds a realtime encoder writing H.264 to outPath. Frames
// arrive as raw RGBA over stdin.
func (f *FFmpeg) NewEncoder(outPath, bitrate string) StreamEncoder {
	return &ffmpegEncoder{
		ffmpegPath: f.ffmpegPath,
		outPath:    outPath,
		bitrate:    bitrate,
	}
}

type ffmpegEncoder struct {
	ffmpegPath string
	outPath    string
	bitrate    string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	width  int
	height int
}

func (e *ffmpegEncoder) Start(width, height, fps int) error {
	e.width, e.height = width, height
	e.cmd = exec.Command(e.ffmpegPath,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-b:v", e.bitrate,
		"-y", e.outPath,
	)
	e.cmd.Stderr = &e.stderr

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return err
	}
	e.stdin = stdin
	if err := e.cmd.Start(); err != nil {
		_ = stdin.Close()
		e.stdin = nil
		return fmt.Errorf("ffmpeg encode start: %w", err)
	}
	return nil
}

func (e *ffmpegEncoder) WriteFrame(img image.Image) error {
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Bounds().Dx() != e.width || rgba.Bounds().Dy() != e.height {
		return fmt.Errorf("encoder expects %dx%d RGBA frames", e.width, e.height)
	}
	_, err := e.stdin.Write(rgba.Pix)
	return err
}

func (e *ffmpegEncoder) Close() (string, error) {
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.cmd != nil {
		if err := e.cmd.Wait(); err != nil {
			return "", fmt.Errorf("ffmpeg encode: %w (%s)", err, lastLine(e.stderr.String()))
		}
	}
	return e.outPath, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wyvern-data/surface.report/internal/httputil"
	"github.com/wyvern-data/surface.report/internal/monitoring"
	"github.com/wyvern-data/surface.report/internal/timeutil"

	_ "image/png" // directory replay accepts PNG frames too
)

// maxFramePayload caps a single MJPEG part or replay file read. Network
// camera frames run well under this.
const maxFramePayload = 8 << 20

// FrameSource delivers frames into a FrameBuffer at the source's native
// rate. Stream blocks until the source fails or the context ends.
type FrameSource interface {
	Stream(ctx context.Context, buf *FrameBuffer) error
}

// RunSource streams frames into buf, reopening the source with doubling
// backoff (1s up to 30s) when it fails. A working stream resets the
// backoff. Runs until the context is cancelled; a frame source outage
// never crashes the process.
func RunSource(ctx context.Context, src FrameSource, buf *FrameBuffer, clock timeutil.Clock) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	const initial = time.Second
	const max = 30 * time.Second
	backoff := initial

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := clock.Now()
		err := src.Stream(ctx, buf)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if clock.Since(started) > max {
			backoff = initial
		}
		monitoring.Logf("Frame source stopped: %v (retrying in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(backoff):
		}
		backoff *= 2
		if backoff > max {
			backoff = max
		}
	}
}

// MJPEGSource reads a network camera's multipart/x-mixed-replace stream.
// Each part body is one JPEG frame.
type MJPEGSource struct {
	URL string

	// Client should come from httputil.NewStreamClient so the response
	// body is not subject to a whole-request timeout. Defaults to one.
	Client httputil.Doer
}

// Stream connects to the camera and publishes frames until the stream
// ends or the context is cancelled.
func (s *MJPEGSource) Stream(ctx context.Context, buf *FrameBuffer) error {
	client := s.Client
	if client == nil {
		client = httputil.NewStreamClient()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("camera request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("camera connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned status %d", resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("camera content type %q is not a multipart stream", resp.Header.Get("Content-Type"))
	}
	boundary := params["boundary"]
	if boundary == "" {
		return fmt.Errorf("camera stream missing multipart boundary")
	}

	mr := multipart.NewReader(resp.Body, boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("camera stream ended: %w", err)
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFramePayload))
		part.Close()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("camera frame read: %w", err)
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			// A torn frame mid-stream is not worth a reconnect.
			continue
		}
		buf.Publish(img, data, time.Now())
	}
}

// DirectorySource replays still images from a directory in filename
// order, for development and demos without a camera. Frames loop forever
// at the configured rate.
type DirectorySource struct {
	Dir string

	// FPS defaults to 10.
	FPS float64

	// Once stops after a single pass instead of looping.
	Once bool
}

// Stream publishes the directory's images until the context ends, or
// after one pass when Once is set.
func (s *DirectorySource) Stream(ctx context.Context, buf *FrameBuffer) error {
	paths, err := s.listImages()
	if err != nil {
		return err
	}

	fps := s.FPS
	if fps <= 0 {
		fps = 10
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i >= len(paths) {
			if s.Once {
				return nil
			}
			i = 0
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		data, err := os.ReadFile(paths[i])
		if err != nil {
			monitoring.Logf("Frame replay: skipping %s: %v", paths[i], err)
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			monitoring.Logf("Frame replay: skipping %s: %v", paths[i], err)
			continue
		}
		var jpegData []byte
		if ext := strings.ToLower(filepath.Ext(paths[i])); ext == ".jpg" || ext == ".jpeg" {
			jpegData = data
		}
		buf.Publish(img, jpegData, time.Now())
	}
}

func (s *DirectorySource) listImages() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("frame replay dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			paths = append(paths, filepath.Join(s.Dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("frame replay dir %s has no images", s.Dir)
	}
	sort.Strings(paths)
	return paths, nil
}

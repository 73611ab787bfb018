package api

import (
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/wyvern-data/surface.report/internal/vision"
)

// videoPollInterval is how often the stream checks for a newer frame.
// The camera publishes around 10-30 fps; polling faster than that just
// spins.
const videoPollInterval = 50 * time.Millisecond

// streamVideo serves the annotated camera feed as an MJPEG stream,
// one JPEG part per new frame. Browsers render multipart/x-mixed-replace
// directly in an <img> tag.
func (s *Server) streamVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.frames == nil {
		http.Error(w, "No camera attached", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary("frame"); err != nil {
		http.Error(w, "Failed to set boundary", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
	w.Header().Set("Cache-Control", "no-cache")

	ticker := time.NewTicker(videoPollInterval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, ok := s.frames.Latest()
		if !ok || frame.Seq == lastSeq {
			continue
		}
		lastSeq = frame.Seq

		data, err := s.renderFrame(frame)
		if err != nil {
			log.Printf("video: failed to render frame %d: %v", frame.Seq, err)
			continue
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(data))},
		})
		if err != nil {
			return
		}
		if _, err := part.Write(data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// renderFrame draws the current overlay onto the frame when annotation
// is on and the fusion loop has published state; otherwise the camera's
// own JPEG bytes go out untouched.
func (s *Server) renderFrame(frame vision.Frame) ([]byte, error) {
	annotate := s.tuning == nil || s.tuning.GetAnnotateFrames()
	if annotate && s.board != nil {
		if st, ok := s.board.Current(); ok {
			img := vision.DrawAnnotations(frame.Image, st, frame.Seq)
			return vision.EncodeJPEG(img)
		}
	}
	if frame.JPEG != nil {
		return frame.JPEG, nil
	}
	return vision.EncodeJPEG(frame.Image)
}

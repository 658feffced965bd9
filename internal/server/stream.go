package server

import (
	"fmt"
	"net/http"

	"github.com/ayusman/fingerspell/internal/capture"
)

const mjpegBoundary = "frame"

// StreamHandler serves the capture loop's latest frames as MJPEG. It never
// reads the camera, so any number of viewers can watch while recognition
// runs.
type StreamHandler struct {
	frames *capture.Latest
}

func NewStreamHandler(frames *capture.Latest) *StreamHandler {
	return &StreamHandler{frames: frames}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	var sent uint64
	for {
		updated := h.frames.Updated()
		if data, seq := h.frames.Load(); seq != sent && len(data) > 0 {
			if err := writePart(w, data); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			sent = seq
		}

		select {
		case <-updated:
		case <-r.Context().Done():
			return
		}
	}
}

func writePart(w http.ResponseWriter, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		mjpegBoundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

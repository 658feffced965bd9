package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/recognition"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local UI
	},
}

// EventsHandler pushes prediction and metrics events to websocket clients.
// Each connection gets its own subscription; a slow client only loses its
// own events.
type EventsHandler struct {
	source EventSource
}

func NewEventsHandler(source EventSource) *EventsHandler {
	return &EventsHandler{source: source}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lgr.Logger.WarnContext(r.Context(), "websocket upgrade", slog.Any("error", xerrors.New(err.Error())))
		return
	}
	defer conn.Close()

	events, unsub := h.source.Subscribe(eventBuffer)
	defer unsub()
	lgr.Logger.DebugContext(r.Context(), "events client connected", slog.String("remote", r.RemoteAddr))

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline closed"),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				lgr.Logger.DebugContext(r.Context(), "events client gone", slog.Any("error", err))
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

type handMessage struct {
	Points     []detector.Point3D `json:"points"`
	Handedness string             `json:"handedness"`
	Score      float64            `json:"score"`
}

type landmarksMessage struct {
	Hands []handMessage `json:"hands"`
}

type landmarksReply struct {
	Result *recognition.FrameResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// LandmarksHandler accepts landmarks detected in the browser, one JSON
// message per frame, and answers each with the frame result.
type LandmarksHandler struct {
	ingest FrameIngester
}

func NewLandmarksHandler(ingest FrameIngester) *LandmarksHandler {
	return &LandmarksHandler{ingest: ingest}
}

func (h *LandmarksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lgr.Logger.WarnContext(r.Context(), "websocket upgrade", slog.Any("error", xerrors.New(err.Error())))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		reply := h.handle(ctx, data)
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func (h *LandmarksHandler) handle(ctx context.Context, data []byte) landmarksReply {
	var msg landmarksMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return landmarksReply{Error: "invalid JSON"}
	}

	hands := make([]detector.HandLandmarks, 0, len(msg.Hands))
	for _, hm := range msg.Hands {
		hand, err := detector.FromPoints(hm.Points, hm.Handedness, hm.Score)
		if err != nil {
			return landmarksReply{Error: err.Error()}
		}
		hands = append(hands, hand)
	}

	res, err := h.ingest.Ingest(ctx, hands)
	if err != nil {
		return landmarksReply{Result: &res, Error: err.Error()}
	}
	return landmarksReply{Result: &res}
}

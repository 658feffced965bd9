package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/fingerspell/internal/app"
	"github.com/ayusman/fingerspell/internal/capture"
	"github.com/ayusman/fingerspell/internal/classifier"
	"github.com/ayusman/fingerspell/internal/decision"
	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/recognition"
	"github.com/ayusman/fingerspell/internal/store"
)

// notifySource reports each new subscription so tests can wait for a
// websocket handler to be listening before producing events.
type notifySource struct {
	inner      EventSource
	subscribed chan struct{}
}

func (n *notifySource) Subscribe(buffer int) (<-chan recognition.Event, func()) {
	ch, unsub := n.inner.Subscribe(buffer)
	n.subscribed <- struct{}{}
	return ch, unsub
}

type stack struct {
	ts     *httptest.Server
	app    *app.App
	store  *store.Store
	events *notifySource
}

func newStack(t *testing.T) *stack {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	adapter, err := classifier.NewAdapter(classifier.NewMockModel(0.1, 0.8, 0.05, 0.05),
		[]string{"A", "B", "C", "D"}, 3, 2*detector.NumLandmarks)
	require.NoError(t, err)
	pipe, err := recognition.New(recognition.Config{SequenceLength: 3}, adapter, decision.NewPolicy(0.7))
	require.NoError(t, err)

	a, err := app.New(app.Config{Pipeline: pipe, Store: s, ModelPath: "test.onnx"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		a.Close()
	})

	events := &notifySource{inner: pipe, subscribed: make(chan struct{}, 4)}
	srv := New(Config{
		Store:      s,
		Recognizer: a,
		Events:     events,
		Ingest:     a,
		Frames:     capture.NewLatest(),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &stack{ts: ts, app: a, store: s, events: events}
}

func (st *stack) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(st.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func fistMessage() []byte {
	fist := detector.FistLandmarks()
	msg := landmarksMessage{Hands: []handMessage{{
		Points:     fist.Points[:],
		Handedness: fist.Handedness,
		Score:      fist.Score,
	}}}
	data, _ := json.Marshal(msg)
	return data
}

func TestAPI_ActionWorkflow(t *testing.T) {
	st := newStack(t)
	client := st.ts.Client()

	resp, err := client.Post(st.ts.URL+"/api/actions", "application/json",
		bytes.NewBufferString(`{"label":"B","plugin_name":"keyboard","action_name":"type"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, "B", created.Label)

	resp, err = client.Get(st.ts.URL + "/api/actions")
	require.NoError(t, err)
	var listed struct {
		Actions []struct {
			ID string `json:"id"`
		} `json:"actions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Actions, 1)

	req, _ := http.NewRequest(http.MethodDelete, st.ts.URL+"/api/actions/"+created.ID, nil)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(st.ts.URL + "/api/actions/" + created.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_RecognitionOverWebsockets(t *testing.T) {
	st := newStack(t)
	client := st.ts.Client()

	events := st.dial(t, "/api/events")
	select {
	case <-st.events.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("events handler never subscribed")
	}

	landmarks := st.dial(t, "/api/landmarks")

	// Stopped: the frame is rejected.
	require.NoError(t, landmarks.WriteMessage(websocket.TextMessage, fistMessage()))
	var reply landmarksReply
	require.NoError(t, landmarks.ReadJSON(&reply))
	assert.Contains(t, reply.Error, recognition.ErrStopped.Error())

	resp, err := client.Post(st.ts.URL+"/api/control/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var accepted *decision.Prediction
	for i := 0; i < 3; i++ {
		require.NoError(t, landmarks.WriteMessage(websocket.TextMessage, fistMessage()))
		reply = landmarksReply{}
		require.NoError(t, landmarks.ReadJSON(&reply))
		require.Empty(t, reply.Error)
		require.NotNil(t, reply.Result)
		assert.True(t, reply.Result.HandDetected)
		if reply.Result.Prediction != nil {
			accepted = reply.Result.Prediction
		}
	}
	require.NotNil(t, accepted, "third frame fills the window")
	assert.Equal(t, "B", accepted.Label)

	events.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev recognition.Event
		require.NoError(t, events.ReadJSON(&ev))
		if ev.Type == recognition.EventPrediction {
			require.NotNil(t, ev.Prediction)
			assert.Equal(t, "B", ev.Prediction.Label)
			break
		}
	}

	require.Eventually(t, func() bool {
		n, err := st.store.Predictions().Count()
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = client.Get(st.ts.URL + "/api/predictions")
	require.NoError(t, err)
	var history struct {
		Predictions []struct {
			Label     string `json:"label"`
			SessionID string `json:"session_id"`
		} `json:"predictions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	resp.Body.Close()
	require.Len(t, history.Predictions, 1)
	assert.Equal(t, "B", history.Predictions[0].Label)
	assert.Equal(t, st.app.SessionID(), history.Predictions[0].SessionID)

	// Malformed landmarks never reach the pipeline.
	require.NoError(t, landmarks.WriteMessage(websocket.TextMessage, []byte(`{"hands":[{"points":[{"x":0.1,"y":0.2}]}]}`)))
	reply = landmarksReply{}
	require.NoError(t, landmarks.ReadJSON(&reply))
	assert.Contains(t, reply.Error, detector.ErrLandmarkCount.Error())

	require.NoError(t, landmarks.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	reply = landmarksReply{}
	require.NoError(t, landmarks.ReadJSON(&reply))
	assert.Equal(t, "invalid JSON", reply.Error)
}

func TestAPI_HealthCheck(t *testing.T) {
	st := newStack(t)

	resp, err := st.ts.Client().Get(st.ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status  string `json:"status"`
		Uptime  string `json:"uptime"`
		Running bool   `json:"running"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.Running)
}

func TestStreamHandler(t *testing.T) {
	frames := capture.NewLatest()
	ts := httptest.NewServer(NewStreamHandler(frames))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	mat := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()
	require.NoError(t, frames.Store(&mat))
	want, _ := frames.Load()

	r := bufio.NewReader(resp.Body)
	boundary, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", boundary)

	header, err := textproto.NewReader(r).ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", header.Get("Content-Type"))

	got := make([]byte, len(want))
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rec := httptest.NewRecorder()
	NewStreamHandler(frames).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWatch(t *testing.T, f *fixture, jobID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sandbox/watch/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWatch(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	jobID := f.submit(t, `{"language":"python","code":"print('hi')"}`)

	conn := dialWatch(t, f, jobID)

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "queued", first["status"])

	go func() {
		_, _ = f.worker.ProcessOne(context.Background())
	}()

	var statuses []string
	for {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
			break
		}
		statuses = append(statuses, frame["status"].(string))
	}

	require.NotEmpty(t, statuses)
	assert.Equal(t, "done", statuses[len(statuses)-1])
	for _, s := range statuses {
		assert.NotEqual(t, "queued", s)
	}
}

func TestWatchUnknownJob(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	conn := dialWatch(t, f, "missing")

	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "Job not found", frame["detail"])

	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
}

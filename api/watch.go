package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/isdmx/jobbox/job"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are left to the CORS configuration and the API key.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWatch streams the job status over a websocket.
// A frame is sent on every change; the socket closes after a terminal state or a missing job.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reading detects its close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	var last *job.StatusView
	for {
		view, err := s.service.Status(ctx, jobID)
		switch {
		case errors.Is(err, job.ErrNotFound):
			_ = s.writeFrame(conn, errorResponse{Detail: "Job not found"})
			s.closeSocket(conn, websocket.CloseNormalClosure, "job not found")
			return
		case err != nil:
			if ctx.Err() == nil {
				s.logger.Error("watch failed", zap.String("job_id", jobID), zap.Error(err))
				s.closeSocket(conn, websocket.CloseInternalServerErr, "job store unavailable")
			}
			return
		}

		if last == nil || !reflect.DeepEqual(*last, view) {
			if err := s.writeFrame(conn, view); err != nil {
				return
			}
			last = &view
		}

		if view.Status.Terminal() {
			s.closeSocket(conn, websocket.CloseNormalClosure, string(view.Status))
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (s *Server) closeSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

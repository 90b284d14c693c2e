package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

// handleEventStream pushes the learner's activity events over a websocket
// until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "activity stream is not configured"})
		return
	}
	studentID := r.PathValue("studentID")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "student_id", studentID, "error", err)
		return
	}
	defer conn.CloseNow()

	// The stream is write-only; CloseRead handles control frames and
	// cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())

	events, err := s.feed.Subscribe(ctx, studentID)
	if err != nil {
		slog.Error("activity subscribe failed", "student_id", studentID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	slog.Info("activity stream opened", "student_id", studentID)

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("activity stream closed", "student_id", studentID)
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(wctx, conn, event)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Warn("activity stream write failed", "student_id", studentID, "error", err)
				}
				return
			}
		}
	}
}

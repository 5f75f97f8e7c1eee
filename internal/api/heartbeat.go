package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/p-n-ai/pai-learn/internal/progression"
)

const heartbeatIdleTimeout = 2 * time.Minute

type heartbeatReply struct {
	Progress *progression.SessionProgress `json:"progress,omitempty"`
	Error    *errorDetail                 `json:"error,omitempty"`
}

// heartbeat streams player events for one session. Each frame is applied
// through the engine and answered with the updated progress. Validation
// errors are reported in-band; state and not-found errors close the stream.
func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	learnerID := learnerFrom(r.Context())
	enrollmentID := chi.URLParam(r, "enrollmentID")
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("heartbeat accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	logger := h.logger.With("learner_id", learnerID, "enrollment_id", enrollmentID, "session_id", sessionID)
	logger.Debug("heartbeat stream opened")

	ctx := r.Context()
	for {
		frame, err := readFrame(ctx, conn)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("heartbeat stream closed")
			default:
				if !errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat read failed", "error", err)
				}
			}
			return
		}

		if err := h.validate.Struct(frame); err != nil {
			_, detail := errorDetailFor(invalidInput(err))
			if err := wsjson.Write(ctx, conn, heartbeatReply{Error: &detail}); err != nil {
				return
			}
			continue
		}

		var progress progression.SessionProgress
		if frame.ResourceAccessed {
			progress, err = h.engine.RecordResourceAccess(ctx, learnerID, enrollmentID, sessionID)
		}
		if err == nil && frame.WatchPercentage != nil {
			progress, err = h.engine.RecordWatchProgress(ctx, learnerID, enrollmentID, sessionID, *frame.WatchPercentage, frame.WatchTimeSeconds)
		}
		if err != nil {
			status, detail := errorDetailFor(err)
			if werr := wsjson.Write(ctx, conn, heartbeatReply{Error: &detail}); werr != nil {
				return
			}
			if status != http.StatusBadRequest {
				conn.Close(websocket.StatusPolicyViolation, detail.Code)
				return
			}
			continue
		}

		if err := wsjson.Write(ctx, conn, heartbeatReply{Progress: &progress}); err != nil {
			logger.Debug("heartbeat write failed", "error", err)
			return
		}
	}
}

func readFrame(ctx context.Context, conn *websocket.Conn) (heartbeatFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, heartbeatIdleTimeout)
	defer cancel()

	var frame heartbeatFrame
	err := wsjson.Read(ctx, conn, &frame)
	return frame, err
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aquasight/deepsee/internal/config"
	"github.com/aquasight/deepsee/internal/history"
	"github.com/aquasight/deepsee/internal/session"
	"github.com/aquasight/deepsee/internal/upload"
)

// PredictionHandler exposes the upload workflow and the history views.
type PredictionHandler struct {
	Cfg     config.Config
	Gate    *session.Gate
	Uploads *upload.Registry
	History *history.Streamer
	Records history.Records
}

func NewPredictionHandler(cfg config.Config, gate *session.Gate, uploads *upload.Registry, streamer *history.Streamer, records history.Records) *PredictionHandler {
	return &PredictionHandler{Cfg: cfg, Gate: gate, Uploads: uploads, History: streamer, Records: records}
}

// Upload accepts a multipart image, runs one submission through the
// caller's coordinator and returns the resulting upload state.  The state
// carries the three artifact URLs on success and the error or warning
// message otherwise, so the response body is the same shape for every
// outcome; only the status code differs.
func (h *PredictionHandler) Upload(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": upload.ErrEmptyFile.Error()})
	}
	if max := int64(h.Cfg.UploadMaxMB) << 20; max > 0 && fh.Size > max {
		return c.JSON(http.StatusRequestEntityTooLarge,
			echo.Map{"error": fmt.Sprintf("file exceeds the %d MB limit", h.Cfg.UploadMaxMB)})
	}
	src, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read uploaded file"})
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read uploaded file"})
	}

	co := h.Uploads.For(uid)
	if err := co.SelectFile(fh.Filename, data); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	// The submission runs to completion even if the client goes away;
	// there is no cancel affordance and the result must still reach the
	// history.
	st, err := co.Submit(context.WithoutCancel(c.Request().Context()))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, st)
	case errors.Is(err, upload.ErrInvalidState):
		return c.JSON(http.StatusConflict, echo.Map{"error": "an upload is already in progress"})
	case errors.Is(err, session.ErrAuthRequired):
		return c.JSON(http.StatusUnauthorized, st)
	default:
		// Inference failures: the state carries the user-facing message.
		return c.JSON(http.StatusBadGateway, st)
	}
}

// UploadState returns the caller's current upload state.
func (h *PredictionHandler) UploadState(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	return c.JSON(http.StatusOK, h.Uploads.For(uid).State())
}

// ListHistory returns the full sorted history snapshot.
func (h *PredictionHandler) ListHistory(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	recs, err := h.Records.ListPredictions(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	view := history.Sorted(recs)
	if view == nil {
		view = history.View{}
	}
	return c.JSON(http.StatusOK, view)
}

// StreamHistory serves the live history over server-sent events: the
// current view immediately, then a fresh full view after every change to
// the caller's collection.  The subscription is released exactly once when
// the client disconnects or the session signs out.
func (h *PredictionHandler) StreamHistory(c echo.Context) error {
	uid, _ := c.Get("user_id").(string)
	sess := h.Gate.Current(uid)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	views := make(chan history.View, 1)
	sub := h.History.Subscribe(ctx, uid, func(v history.View) {
		// Latest view wins; an unread stale view is replaced, not queued.
		for {
			select {
			case views <- v:
				return
			default:
				select {
				case <-views:
				default:
				}
			}
		}
	})
	defer sub.Unsubscribe()

	var done <-chan struct{}
	if sess.Authenticated() {
		done = sess.Done()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case v := <-views:
			payload, err := json.Marshal(v)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

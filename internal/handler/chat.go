package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dental-clinic-admin/internal/chat"
	"github.com/iliyamo/dental-clinic-admin/internal/middleware"
)

// ChatHandler exposes the relay over HTTP: a server-sent event stream, a
// plain request/response variant and the history of a patient.
type ChatHandler struct {
	Relay           *chat.Relay
	MaxMessageChars int
	Dev             bool
}

func NewChatHandler(r *chat.Relay, maxChars int, dev bool) *ChatHandler {
	if maxChars <= 0 {
		maxChars = 2000
	}
	return &ChatHandler{Relay: r, MaxMessageChars: maxChars, Dev: dev}
}

type chatReq struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Message   string `json:"message" validate:"required"`
}

// Stream handles POST /v1/chat/stream.  Errors found before the stream is
// opened are answered as JSON; after that they arrive as an error event.
func (h *ChatHandler) Stream(c echo.Context) error {
	in, ok, err := h.bind(c)
	if !ok {
		return err
	}
	err = h.Relay.Stream(c.Request().Context(), in, func() (chat.Sink, error) {
		return openSSE(c.Response())
	})
	if err != nil {
		return writeError(c, err, h.Dev)
	}
	return nil
}

// Send handles POST /v1/chat and answers with both stored messages.
func (h *ChatHandler) Send(c echo.Context) error {
	in, ok, err := h.bind(c)
	if !ok {
		return err
	}
	res, err := h.Relay.Send(c.Request().Context(), in)
	if err != nil {
		return writeError(c, err, h.Dev)
	}
	return c.JSON(http.StatusOK, res)
}

// History handles GET /v1/chat/history/:patientId.
func (h *ChatHandler) History(c echo.Context) error {
	uid, ok := middleware.CurrentUserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	pid := c.Param("patientId")
	if _, err := uuid.Parse(pid); err != nil {
		return badRequest(c, "invalid patient id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()
	msgs, err := h.Relay.History(ctx, pid, uid)
	if err != nil {
		return writeError(c, err, h.Dev)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": msgs})
}

func (h *ChatHandler) bind(c echo.Context) (chat.TurnInput, bool, error) {
	uid, ok := middleware.CurrentUserID(c)
	if !ok {
		return chat.TurnInput{}, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req chatReq
	if err := c.Bind(&req); err != nil {
		return chat.TurnInput{}, false, badRequest(c, "invalid request body")
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	if err := c.Validate(&req); err != nil {
		return chat.TurnInput{}, false, badRequest(c, validationMessage(err))
	}
	if strings.TrimSpace(req.Message) == "" {
		return chat.TurnInput{}, false, badRequest(c, "message cannot be empty")
	}
	if utf8.RuneCountInString(req.Message) > h.MaxMessageChars {
		return chat.TurnInput{}, false, badRequest(c, fmt.Sprintf("message must be at most %d characters", h.MaxMessageChars))
	}
	return chat.TurnInput{PatientID: req.PatientID, UserID: uid, Message: req.Message}, true, nil
}

// sseSink writes events as "data: <json>\n\n" and flushes each one.
type sseSink struct {
	w *echo.Response
}

func openSSE(w *echo.Response) (*sseSink, error) {
	if _, ok := w.Writer.(http.Flusher); !ok {
		return nil, errors.New("response writer cannot flush")
	}
	h := w.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()
	return &sseSink{w: w}, nil
}

func (s *sseSink) Send(ev chat.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

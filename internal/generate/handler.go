package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

const (
	maxRequestBody  = 256 << 10
	fallbackMessage = "I understood your message."

	rateLimitedMessage = "Rate limit exceeded. Please try again shortly."
	exhaustedMessage   = "AI credits exhausted. Please add credits to continue."
)

var thumbsUpOptions = []string{"Yes, absolutely", "Somewhat agree", "Not sure", "Disagree"}

// HandlerConfig configures the generate-tools handler.
type HandlerConfig struct {
	Completer Completer
	Logger    *slog.Logger
	Metrics   *Metrics
	// Timeout bounds one completion call. Zero means no extra bound.
	Timeout time.Duration
}

// Handler serves POST generate-tools requests.
type Handler struct {
	completer Completer
	logger    *slog.Logger
	metrics   *Metrics
	timeout   time.Duration
	system    string
	now       func() time.Time
}

// NewHandler builds a handler. A nil Completer is allowed; requests that
// need a completion then fail with 500.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		completer: cfg.Completer,
		logger:    logger.With("component", "generate-tools"),
		metrics:   cfg.Metrics,
		timeout:   cfg.Timeout,
		system:    SystemPrompt(),
		now:       time.Now,
	}
}

type handlerResponse struct {
	Message string          `json:"message"`
	Tools   []toolspec.Spec `json:"tools"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type")
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.Header().Set("Allow", "POST, OPTIONS")
		h.fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Gesture != nil {
		if resp, ok := h.gestureResponse(*req.Gesture); ok {
			h.metrics.recordHandled("gesture")
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}
	if strings.TrimSpace(req.Message) == "" {
		h.fail(w, http.StatusBadRequest, "message is required")
		return
	}
	if h.completer == nil {
		h.fail(w, http.StatusInternalServerError, "generation backend is not configured")
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	content, err := h.completer.Complete(ctx, h.system, TrimHistory(req.ConversationHistory), req.Message)
	if err != nil {
		h.completionFailed(w, err)
		return
	}
	h.metrics.recordHandled("completion")
	writeJSON(w, http.StatusOK, h.parseCompletion(content))
}

func (h *Handler) completionFailed(w http.ResponseWriter, err error) {
	var cerr *CompletionError
	if errors.As(err, &cerr) {
		switch cerr.Status {
		case http.StatusTooManyRequests:
			h.fail(w, http.StatusTooManyRequests, rateLimitedMessage)
			return
		case http.StatusPaymentRequired:
			h.fail(w, http.StatusPaymentRequired, exhaustedMessage)
			return
		}
		h.logger.Error("completion backend error", "status", cerr.Status, "error", cerr.Err)
		h.fail(w, http.StatusInternalServerError, fmt.Sprintf("AI gateway error: %d", cerr.Status))
		return
	}
	h.logger.Error("completion failed", "error", err)
	h.fail(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) gestureResponse(g Gesture) (handlerResponse, bool) {
	switch g.Type {
	case GestureThumbsUp:
		return h.withIDs("Quick poll triggered by thumbs up gesture.", toolspec.PollProps{
			Question: "Do you agree with this point?",
			Options:  append([]string(nil), thumbsUpOptions...),
		}), true
	case GestureOpenPalm:
		return h.withIDs("Canvas cleared."), true
	case GestureVictory:
		quote := strings.TrimSpace(g.LastQuote)
		if quote == "" {
			quote = "Key moment captured"
		}
		return h.withIDs("Spotlight activated.", toolspec.SpotlightProps{Quote: quote, Speaker: g.Speaker}), true
	}
	return handlerResponse{}, false
}

func (h *Handler) withIDs(message string, props ...toolspec.Props) handlerResponse {
	resp := handlerResponse{Message: message, Tools: []toolspec.Spec{}}
	for i, p := range props {
		resp.Tools = append(resp.Tools, toolspec.Spec{ID: h.toolID(p.ToolType(), i), Type: p.ToolType(), Props: p})
	}
	return resp
}

func (h *Handler) toolID(t toolspec.Type, index int) string {
	return fmt.Sprintf("%s-%d-%d", t, h.now().UnixMilli(), index)
}

// parseCompletion turns model output into a response. Content that is not
// a JSON object becomes the message with no tools.
func (h *Handler) parseCompletion(content string) handlerResponse {
	resp := handlerResponse{Tools: []toolspec.Spec{}}
	var parsed wireResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		h.logger.Warn("completion was not a JSON object", "error", err)
		resp.Message = content
		return resp
	}
	resp.Message = parsed.Message
	if strings.TrimSpace(resp.Message) == "" {
		resp.Message = fallbackMessage
	}
	for i, raw := range parsed.Tools {
		spec, err := decodeTool(raw, func(t toolspec.Type) string { return h.toolID(t, i) })
		if err != nil {
			h.metrics.recordDropped()
			h.logger.Warn("dropping invalid tool from completion", "index", i, "error", err)
			continue
		}
		spec.ID = h.toolID(spec.Type, i)
		resp.Tools = append(resp.Tools, spec)
	}
	return resp
}

func (h *Handler) fail(w http.ResponseWriter, status int, msg string) {
	h.metrics.recordHandled(fmt.Sprintf("error_%d", status))
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck
}

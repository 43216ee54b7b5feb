package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/livecanvas/internal/toolspec"
)

type fakeCompleter struct {
	content string
	err     error

	calls   int
	history []Turn
	message string
}

func (f *fakeCompleter) Complete(ctx context.Context, system string, history []Turn, message string) (string, error) {
	f.calls++
	f.history = history
	f.message = message
	return f.content, f.err
}

type decodedResponse struct {
	Message string          `json:"message"`
	Tools   []toolspec.Spec `json:"tools"`
	Error   string          `json:"error"`
}

func serve(t *testing.T, h *Handler, body string) (int, decodedResponse) {
	t.Helper()
	h.now = func() time.Time { return time.UnixMilli(1700000000000) }
	req := httptest.NewRequest(http.MethodPost, "/generate-tools", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out decodedResponse
	raw, _ := io.ReadAll(rec.Body)
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode response %q: %v", raw, err)
	}
	return rec.Code, out
}

func TestHandlerGestures(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMessage string
		wantTools   []toolspec.Spec
	}{
		{
			name:        "thumbs up opens a poll",
			body:        `{"message":"","gestureEvent":{"type":"thumbs-up"}}`,
			wantMessage: "Quick poll triggered by thumbs up gesture.",
			wantTools: []toolspec.Spec{{
				ID:   "poll-1700000000000-0",
				Type: toolspec.TypePoll,
				Props: toolspec.PollProps{
					Question: "Do you agree with this point?",
					Options:  []string{"Yes, absolutely", "Somewhat agree", "Not sure", "Disagree"},
				},
			}},
		},
		{
			name:        "open palm clears",
			body:        `{"message":"","gestureEvent":{"type":"open-palm"}}`,
			wantMessage: "Canvas cleared.",
			wantTools:   []toolspec.Spec{},
		},
		{
			name:        "victory spotlights the last quote",
			body:        `{"message":"","gestureEvent":{"type":"victory","lastQuote":"Ship it","speaker":"Ana"}}`,
			wantMessage: "Spotlight activated.",
			wantTools: []toolspec.Spec{{
				ID:    "spotlight-1700000000000-0",
				Type:  toolspec.TypeSpotlight,
				Props: toolspec.SpotlightProps{Quote: "Ship it", Speaker: "Ana"},
			}},
		},
		{
			name:        "victory without a quote",
			body:        `{"message":"","gestureEvent":{"type":"victory"}}`,
			wantMessage: "Spotlight activated.",
			wantTools: []toolspec.Spec{{
				ID:    "spotlight-1700000000000-0",
				Type:  toolspec.TypeSpotlight,
				Props: toolspec.SpotlightProps{Quote: "Key moment captured"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{}
			code, got := serve(t, NewHandler(HandlerConfig{Completer: completer}), tt.body)
			if code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if got.Message != tt.wantMessage {
				t.Fatalf("message = %q, want %q", got.Message, tt.wantMessage)
			}
			if diff := cmp.Diff(tt.wantTools, got.Tools); diff != "" {
				t.Fatalf("tools (-want +got):\n%s", diff)
			}
			if completer.calls != 0 {
				t.Fatalf("gestures must not call the completion backend")
			}
		})
	}
}

func TestHandlerCompletion(t *testing.T) {
	completer := &fakeCompleter{content: `{
		"message": "Let's vote.",
		"tools": [
			{"id": "model-chosen", "type": "poll", "props": {"question": "Lunch?", "options": ["Pizza", "Salad"]}},
			{"type": "poll", "props": {"question": ""}},
			{"type": "timer", "props": {"initialSeconds": 120, "mode": "countdown"}}
		]
	}`}
	history := make([]Turn, 12)
	for i := range history {
		history[i] = Turn{Role: RoleAssistant, Content: fmt.Sprint(i)}
	}
	body, _ := json.Marshal(Request{Message: "poll about lunch", ConversationHistory: history})

	code, got := serve(t, NewHandler(HandlerConfig{Completer: completer}), string(body))
	if code != http.StatusOK {
		t.Fatalf("status = %d (%s)", code, got.Error)
	}
	if completer.message != "poll about lunch" || len(completer.history) != HistoryWindow {
		t.Fatalf("completer saw message %q with %d history turns", completer.message, len(completer.history))
	}
	if got.Message != "Let's vote." {
		t.Fatalf("message = %q", got.Message)
	}
	var ids []string
	for _, tool := range got.Tools {
		ids = append(ids, tool.ID)
	}
	if diff := cmp.Diff([]string{"poll-1700000000000-0", "timer-1700000000000-2"}, ids); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
}

func TestHandlerCompletionFallbacks(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantMessage string
	}{
		{name: "plain text", content: "Sorry, I can't do that", wantMessage: "Sorry, I can't do that"},
		{name: "missing message", content: `{"tools":[]}`, wantMessage: "I understood your message."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(HandlerConfig{Completer: &fakeCompleter{content: tt.content}})
			code, got := serve(t, h, `{"message":"hello"}`)
			if code != http.StatusOK || got.Message != tt.wantMessage || len(got.Tools) != 0 {
				t.Fatalf("got %d %+v", code, got)
			}
		})
	}
}

func TestHandlerErrors(t *testing.T) {
	tests := []struct {
		name       string
		completer  Completer
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "rate limited",
			completer:  &fakeCompleter{err: &CompletionError{Status: 429, Err: errors.New("slow down")}},
			body:       `{"message":"hi"}`,
			wantStatus: http.StatusTooManyRequests,
			wantError:  "Rate limit exceeded. Please try again shortly.",
		},
		{
			name:       "credits exhausted",
			completer:  &fakeCompleter{err: &CompletionError{Status: 402, Err: errors.New("pay up")}},
			body:       `{"message":"hi"}`,
			wantStatus: http.StatusPaymentRequired,
			wantError:  "AI credits exhausted. Please add credits to continue.",
		},
		{
			name:       "upstream failure",
			completer:  &fakeCompleter{err: &CompletionError{Status: 503, Err: errors.New("down")}},
			body:       `{"message":"hi"}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "AI gateway error: 503",
		},
		{
			name:       "transport failure",
			completer:  &fakeCompleter{err: errors.New("dial tcp: refused")},
			body:       `{"message":"hi"}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "dial tcp: refused",
		},
		{
			name:       "no backend",
			body:       `{"message":"hi"}`,
			wantStatus: http.StatusInternalServerError,
			wantError:  "generation backend is not configured",
		},
		{
			name:       "bad body",
			completer:  &fakeCompleter{},
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "empty message",
			completer:  &fakeCompleter{},
			body:       `{"message":"  "}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "message is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, got := serve(t, NewHandler(HandlerConfig{Completer: tt.completer}), tt.body)
			if code != tt.wantStatus || got.Error != tt.wantError {
				t.Fatalf("got %d %q, want %d %q", code, got.Error, tt.wantStatus, tt.wantError)
			}
		})
	}
}

func TestHandlerMethods(t *testing.T) {
	h := NewHandler(HandlerConfig{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/generate-tools", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generate-tools", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET got %d", rec.Code)
	}
}

func TestSystemPromptListsEveryTool(t *testing.T) {
	prompt := SystemPrompt()
	for _, typ := range toolspec.Types {
		if !strings.Contains(prompt, "- "+string(typ)+":") {
			t.Errorf("prompt does not describe %s", typ)
		}
	}
}

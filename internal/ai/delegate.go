// Package ai defines the availability assistant used by the calendar and
// query services, together with one adapter per provider.
//
// The application never interprets availability itself: free text is turned
// into an opaque JSON payload by ConvertCalendarInput, and questions about
// several calendars are answered by AnswerAvailabilityQuery.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyResponse is returned when a provider answers with no usable text.
var ErrEmptyResponse = errors.New("ai: empty response")

// CalendarEntry is one user's calendar as sent to the assistant.
type CalendarEntry struct {
	UserID       uint            `json:"userId"`
	Username     string          `json:"username"`
	Availability json.RawMessage `json:"availability"`
}

// Delegate is the contract every provider adapter satisfies.
type Delegate interface {
	// ConvertCalendarInput turns free-text availability into a JSON payload
	// that is stored verbatim.
	ConvertCalendarInput(ctx context.Context, freeText string) (json.RawMessage, error)
	// AnswerAvailabilityQuery answers question against calendars, which are
	// ordered requester first.
	AnswerAvailabilityQuery(ctx context.Context, question string, calendars []CalendarEntry) (string, error)
}

// Provider names accepted by New.
const (
	ProviderMock             = "mock"
	ProviderOpenAI           = "openai"
	ProviderOpenAICompletion = "openai-completion"
)

// Options configures the OpenAI-backed adapters.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// New builds the adapter named by provider.
func New(provider string, opts Options) (Delegate, error) {
	switch provider {
	case ProviderMock, "":
		return NewMock(), nil
	case ProviderOpenAI:
		return NewOpenAIChat(opts), nil
	case ProviderOpenAICompletion:
		return NewOpenAICompletion(opts), nil
	default:
		return nil, fmt.Errorf("ai: unknown provider %q", provider)
	}
}

// DefaultHTTPClient returns the client used by the OpenAI adapters.
func DefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// payloadFromText stores model output as JSON. Output that already is JSON
// (optionally fenced in a ```json block) is kept as is; anything else becomes
// a JSON string.
func payloadFromText(text string) (json.RawMessage, error) {
	s := stripCodeFence(strings.TrimSpace(text))
	if s == "" {
		return nil, ErrEmptyResponse
	}
	if json.Valid([]byte(s)) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(s)); err == nil {
			return json.RawMessage(buf.Bytes()), nil
		}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

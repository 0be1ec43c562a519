package ai

import (
	"context"
	"encoding/json"
	"strings"
)

// MockAnswer is the fixed reply returned by Mock.AnswerAvailabilityQuery.
const MockAnswer = "Based on the calendars provided, the users are both available on Tuesday between 10:00 AM and 3:00 PM."

var mockAvailability = json.RawMessage(`{"monday":["09:00-12:00","14:00-17:00"],"tuesday":["10:00-15:00"],"wednesday":["09:00-17:00"]}`)

// Mock is a deterministic offline delegate for local development and tests.
type Mock struct{}

// NewMock returns a Mock.
func NewMock() *Mock { return &Mock{} }

// ConvertCalendarInput returns the same weekday payload for any non-blank input.
func (Mock) ConvertCalendarInput(ctx context.Context, freeText string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(freeText) == "" {
		return nil, ErrEmptyResponse
	}
	out := make(json.RawMessage, len(mockAvailability))
	copy(out, mockAvailability)
	return out, nil
}

// AnswerAvailabilityQuery returns MockAnswer.
func (Mock) AnswerAvailabilityQuery(ctx context.Context, question string, calendars []CalendarEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return MockAnswer, nil
}

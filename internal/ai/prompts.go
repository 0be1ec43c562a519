package ai

import (
	"encoding/json"
	"fmt"
)

const calendarSystemPrompt = `You convert free-text availability into JSON.
Return only a JSON object, with no commentary and no code fences.
Keys are lowercase weekday names ("monday" ... "sunday") or ISO dates ("2024-10-29").
Values are arrays of "HH:MM-HH:MM" strings in 24-hour time.
If the text states a preference, append it to the range as "/N" where
3 = available and preferred, 2 = available, 1 = available but not preferred.
Omit days on which the person is not available.`

const querySystemPrompt = `You answer questions about when people are available.
You receive a JSON array of calendars, one per person, followed by a question.
The first calendar belongs to the person asking.
Answer concisely in plain text, naming concrete days and times.
If nobody's availability overlaps, say so.`

// Temperatures: conversion must be deterministic, answers may vary a little.
const (
	calendarTemperature float32 = 0
	queryTemperature    float32 = 0.7
)

func calendarUserPrompt(freeText string) string {
	return "Availability:\n" + freeText
}

func queryUserPrompt(question string, calendars []CalendarEntry) (string, error) {
	b, err := json.Marshal(calendars)
	if err != nil {
		return "", fmt.Errorf("ai: encode calendars: %w", err)
	}
	return fmt.Sprintf("Calendars: %s\n\nQuery: %s", b, question), nil
}

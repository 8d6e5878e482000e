// ABOUTME: Completer contract, ServiceError, and JSON location helpers.
// ABOUTME: Shared by every component that asks a language model for structured output.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Completer produces a completion for prompt, optionally steered by system.
type Completer interface {
	Complete(ctx context.Context, prompt, system string) (string, error)
}

// ErrNoJSON indicates a completion contained no JSON object.
var ErrNoJSON = errors.New("no JSON object in completion")

// ErrEmptyPrompt indicates a call with no user prompt. Chat endpoints reject
// a user turn without content, so it is refused before any request is made.
var ErrEmptyPrompt = errors.New("empty user prompt")

// ServiceError reports a failed call to a completion provider.
type ServiceError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// ExtractJSON returns the text between the first '{' and the last '}' in s.
func ExtractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// DecodeJSON locates the JSON object in s and unmarshals it into v.
func DecodeJSON(s string, v any) error {
	raw, err := ExtractJSON(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decoding completion JSON: %w", err)
	}
	return nil
}

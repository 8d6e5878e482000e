// ABOUTME: Scripted Completer for tests and offline runs.
// ABOUTME: Routes prompts to canned replies by substring and records every call.

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnscripted is returned by Mock when no rule matches and no default is set.
var ErrUnscripted = errors.New("mock: no scripted reply")

// Call records one invocation of Mock.Complete.
type Call struct {
	Prompt string
	System string
}

type rule struct {
	match string
	reply string
	err   error
}

// Mock returns canned replies. Rules are matched in the order they were
// added against the concatenation of system and user prompt.
type Mock struct {
	mu       sync.Mutex
	rules    []rule
	fallback *rule
	calls    []Call
}

// NewMock creates an empty Mock that fails every call until scripted.
func NewMock() *Mock {
	return &Mock{}
}

// On replies with reply whenever the prompts contain match.
func (m *Mock) On(match, reply string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{match: match, reply: reply})
	return m
}

// FailOn returns err whenever the prompts contain match.
func (m *Mock) FailOn(match string, err error) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{match: match, err: err})
	return m
}

// Default sets the reply used when no rule matches.
func (m *Mock) Default(reply string) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &rule{reply: reply}
	return m
}

// Complete implements Completer.
func (m *Mock) Complete(ctx context.Context, prompt, system string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &ServiceError{Provider: "mock", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Prompt: prompt, System: system})
	if strings.TrimSpace(prompt) == "" {
		return "", &ServiceError{Provider: "mock", Err: ErrEmptyPrompt}
	}
	haystack := system + "\n" + prompt
	for _, r := range m.rules {
		if strings.Contains(haystack, r.match) {
			if r.err != nil {
				return "", &ServiceError{Provider: "mock", Err: r.err}
			}
			return r.reply, nil
		}
	}
	if m.fallback != nil {
		return m.fallback.reply, nil
	}
	return "", &ServiceError{Provider: "mock", Err: ErrUnscripted}
}

// Calls returns a copy of the recorded calls.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

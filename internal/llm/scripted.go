package llm

import (
	"context"
	"sync"
)

// ScriptedStep is one pre-programmed outcome of a Scripted provider.
type ScriptedStep struct {
	Response *Response
	Err      error
}

// Scripted replays a fixed sequence of outcomes and records the requests
// it received. Used by tests across the agent and orchestration layers.
type Scripted struct {
	ProviderName string

	mu       sync.Mutex
	steps    []ScriptedStep
	Requests []Request
}

// NewScripted builds a scripted provider that replies with the given
// steps in order.
func NewScripted(name string, steps ...ScriptedStep) *Scripted {
	return &Scripted{ProviderName: name, steps: steps}
}

func (s *Scripted) Name() string { return s.ProviderName }

func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if len(s.steps) == 0 {
		return nil, &Error{Provider: s.ProviderName, Kind: KindUnknown, Message: "scripted provider exhausted"}
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Remaining reports how many scripted steps are left unconsumed.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

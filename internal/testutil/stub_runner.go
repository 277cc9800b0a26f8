// Package testutil holds shared test helpers.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StubRunner is a scripted git.Runner for tests. Responses queued with Stub
// are consumed in order; StubDefault answers are reusable. Unscripted calls
// fail loudly so tests notice unexpected git traffic.
type StubRunner struct {
	mu       sync.Mutex
	stubs    map[string][]stubResponse
	defaults map[string]stubResponse
	calls    []string
}

type stubResponse struct {
	out string
	err error
}

func NewStubRunner() *StubRunner {
	return &StubRunner{
		stubs:    make(map[string][]stubResponse),
		defaults: make(map[string]stubResponse),
	}
}

func (s *StubRunner) Stub(args string, out string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs[args] = append(s.stubs[args], stubResponse{out: out, err: err})
}

func (s *StubRunner) StubDefault(args string, out string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[args] = stubResponse{out: out, err: err}
}

func (s *StubRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, key)
	queue := s.stubs[key]
	if len(queue) == 0 {
		if resp, ok := s.defaults[key]; ok {
			return resp.out, resp.err
		}
		return "", fmt.Errorf("unexpected git call: %s", key)
	}
	resp := queue[0]
	s.stubs[key] = queue[1:]
	return resp.out, resp.err
}

// CallsFor counts how many times the exact argument list was executed
func (s *StubRunner) CallsFor(args ...string) int {
	key := strings.Join(args, " ")
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, call := range s.calls {
		if call == key {
			count++
		}
	}
	return count
}

// Calls returns the recorded argument lists in execution order
func (s *StubRunner) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

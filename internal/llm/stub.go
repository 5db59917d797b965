package llm

import (
	"context"
	"sync"
)

// StubReply is one scripted response of a Stub.
type StubReply struct {
	Text string
	Err  error
}

// Stub is a scripted Client for tests and offline runs. Replies are consumed
// in order; once exhausted the last one repeats. With no replies it echoes
// the input.
type Stub struct {
	mu       sync.Mutex
	replies  []StubReply
	Requests []Request
}

// NewStub returns a Stub that answers with texts in order.
func NewStub(texts ...string) *Stub {
	s := &Stub{}
	for _, t := range texts {
		s.replies = append(s.replies, StubReply{Text: t})
	}
	return s
}

// NewFailingStub returns a Stub whose every call fails with err.
func NewFailingStub(err error) *Stub {
	return &Stub{replies: []StubReply{{Err: err}}}
}

// Generate records req and returns the next scripted reply.
func (s *Stub) Generate(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.replies) == 0 {
		return req.Input, nil
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r.Text, r.Err
}

// Calls returns how many requests were made.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

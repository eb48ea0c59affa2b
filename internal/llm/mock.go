package llm

import (
	"context"
	"sync"
)

// MockResponse is a canned reply for MockJudge. Raw is interpreted the way
// a real provider reply would be; Err, when set, is returned as is.
type MockResponse struct {
	Raw string
	Err error
}

// MockJudge is a deterministic Judge for tests. It returns canned
// responses in FIFO order and records every prompt.
type MockJudge struct {
	mu        sync.Mutex
	responses []MockResponse
	Calls     []string
}

// NewMockJudge creates a MockJudge with the given canned responses.
func NewMockJudge(responses ...MockResponse) *MockJudge {
	return &MockJudge{responses: responses}
}

// Judge returns the next canned response, or ErrProviderFault if the queue
// is empty.
func (m *MockJudge) Judge(_ context.Context, prompt string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, prompt)

	if len(m.responses) == 0 {
		return false, &ErrProviderFault{}
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]

	if resp.Err != nil {
		return false, resp.Err
	}
	return interpretVerdict(resp.Raw)
}

// CallCount returns the number of Judge calls made.
func (m *MockJudge) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

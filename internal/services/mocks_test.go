package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"pricereturns/internal/pricesource"
	"pricereturns/internal/returns"
)

// MockWebSocketHub is a mock for the WebSocketHub interface
type MockWebSocketHub struct {
	mock.Mock
}

func (m *MockWebSocketHub) Broadcast(messageType string, data interface{}) {
	m.Called(messageType, data)
}

func (m *MockWebSocketHub) ClientCount() int {
	args := m.Called()
	return args.Int(0)
}

// stubSource serves a fixed table. When gate is set Fetch blocks until it is
// closed or ctx is done.
type stubSource struct {
	mu     sync.Mutex
	points []returns.PricePoint
	fail   map[string]error
	gate   chan struct{}
	calls  [][]string
}

func (s *stubSource) Fetch(ctx context.Context, symbols []string) ([]returns.PricePoint, error) {
	s.mu.Lock()
	s.calls = append(s.calls, symbols)
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	want := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		want[sym] = true
	}

	var out []returns.PricePoint
	for _, p := range s.points {
		if len(symbols) > 0 && !want[p.Symbol] {
			continue
		}
		if _, failed := s.fail[p.Symbol]; failed {
			continue
		}
		out = append(out, p)
	}

	failures := map[string]error{}
	for _, sym := range symbols {
		if err, ok := s.fail[sym]; ok {
			failures[sym] = err
		}
	}
	if len(failures) > 0 {
		return out, &pricesource.FetchError{Failures: failures}
	}
	return out, nil
}

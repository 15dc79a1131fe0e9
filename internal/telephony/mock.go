package telephony

import (
	"context"
	"fmt"
	"sync"
)

// MockDialer records call requests instead of reaching Twilio. Used in tests
// and when no Twilio credentials are configured.
type MockDialer struct {
	mu    sync.Mutex
	calls []string
	Err   error
}

func (d *MockDialer) CreateCall(_ context.Context, to string) (string, error) {
	if d.Err != nil {
		return "", d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, to)
	return fmt.Sprintf("CA-mock-%04d", len(d.calls)), nil
}

func (d *MockDialer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

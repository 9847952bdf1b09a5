package arrow_client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/23skdu/longbow-quant/internal/pathdata"
)

// MockFlightClient is an in-memory PathStore for testing
type MockFlightClient struct {
	mu        sync.RWMutex
	connected bool
	data      map[string]*pathdata.Table
	runs      map[string]string
}

// NewMockFlightClient creates a new mock client
func NewMockFlightClient() *MockFlightClient {
	return &MockFlightClient{
		data: make(map[string]*pathdata.Table),
		runs: make(map[string]string),
	}
}

// Connect simulates connection
func (m *MockFlightClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close simulates disconnection
func (m *MockFlightClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockFlightClient) FetchPaths(ctx context.Context, name string) (*pathdata.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, fmt.Errorf("client not connected")
	}
	t, ok := m.data[name]
	if !ok {
		return nil, fmt.Errorf("no path data named %q", name)
	}
	return t, nil
}

func (m *MockFlightClient) PublishPaths(ctx context.Context, name string, t *pathdata.Table) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", fmt.Errorf("client not connected")
	}
	runID := uuid.NewString()
	m.data[name] = t
	m.runs[name] = runID
	return runID, nil
}

func (m *MockFlightClient) ListPaths(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, fmt.Errorf("client not connected")
	}
	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RunID returns the run id of the last publish under name (for testing)
func (m *MockFlightClient) RunID(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[name]
}

// Reset clears all stored data
func (m *MockFlightClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]*pathdata.Table)
	m.runs = make(map[string]string)
}

var _ PathStore = (*MockFlightClient)(nil)

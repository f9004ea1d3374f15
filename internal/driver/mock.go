package driver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockRunner implements Runner for tests. Grounded on the teacher's
// internal/lima/mock.go: pluggable error fields for each verb, plus an
// in-memory container table.
type MockRunner struct {
	mu         sync.Mutex
	containers map[string]*mockContainer

	EnsureAvailableErr error
	PullImageErr       error
	RunErr             error
	StopErr            error
	RestartErr         error

	// RunCalls records every Run invocation's name, for tests that
	// assert on retry counts or replacement behavior.
	RunCalls []string
}

type mockContainer struct {
	name    string
	image   string
	envs    map[string]string
	ports   PortMap
	labels  map[string]string
	created time.Time
	running bool
}

func NewMockRunner() *MockRunner {
	return &MockRunner{containers: make(map[string]*mockContainer)}
}

func (m *MockRunner) EnsureAvailable(ctx context.Context) error {
	return m.EnsureAvailableErr
}

func (m *MockRunner) PullImage(ctx context.Context, ref string) error {
	return m.PullImageErr
}

func (m *MockRunner) Run(ctx context.Context, name, image string, envs map[string]string, ports PortMap, extraArgs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCalls = append(m.RunCalls, name)
	if m.RunErr != nil {
		return m.RunErr
	}
	m.containers[name] = &mockContainer{
		name:    name,
		image:   image,
		envs:    envs,
		ports:   ports,
		labels:  map[string]string{},
		created: time.Now(),
		running: true,
	}
	return nil
}

func (m *MockRunner) Stop(ctx context.Context, name string) error {
	if m.StopErr != nil {
		return m.StopErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[name]; !ok {
		return ErrAlreadyGone
	}
	delete(m.containers, name)
	return nil
}

func (m *MockRunner) Restart(ctx context.Context, name string) error {
	if m.RestartErr != nil {
		return m.RestartErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[name]
	if !ok {
		return ErrAlreadyGone
	}
	c.running = true
	return nil
}

func (m *MockRunner) Kill(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, name)
	return nil
}

func (m *MockRunner) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.containers {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *MockRunner) Inspect(ctx context.Context, name string) (*Inspection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[name]
	if !ok {
		return nil, fmt.Errorf("mock: container %q not found", name)
	}
	return &Inspection{
		Name:      c.name,
		Labels:    c.labels,
		CreatedAt: c.created,
		Ports:     c.ports,
		Running:   c.running,
	}, nil
}

// SetLabel lets a test simulate the agent populating a container's
// labels, mirroring what the real runtime would report from `inspect`.
func (m *MockRunner) SetLabel(name, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.containers[name]; ok {
		c.labels[key] = value
	}
}

// Running reports whether the mock currently has a container for name.
func (m *MockRunner) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[name]
	return ok && c.running
}

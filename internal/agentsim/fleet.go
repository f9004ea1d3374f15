package agentsim

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Fleet runs one simulated agent per pool slot, each bound to its own
// app port, and auto-announces node:setState shortly after its Link
// connects so a real lifecycle Supervisor can be driven to Ready
// without a real container runtime. Used by `browserpoolctl dev
// serve-fake-agent`.
type Fleet struct {
	logger  *log.Logger
	agents  []*Agent
	servers []*http.Server
}

// NewFleet builds n agents listening on baseAppPort+0..n-1.
func NewFleet(n, baseAppPort int, logger *log.Logger) *Fleet {
	if logger == nil {
		logger = log.Default()
	}
	f := &Fleet{logger: logger}
	for i := 0; i < n; i++ {
		port := baseAppPort + i
		agent := New(fmt.Sprintf("sim-%d", port), logger)
		f.agents = append(f.agents, agent)
		f.servers = append(f.servers, &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: agent.Handler(),
		})
	}
	return f
}

// Start launches a listener on every agent's port and begins
// auto-announcing. It returns immediately without waiting for the
// listeners; a listener that fails to start is only logged. Serving
// and announcing continue in the background until ctx is done.
func (f *Fleet) Start(ctx context.Context) error {
	for i, srv := range f.servers {
		srv := srv
		agent := f.agents[i]
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				f.logger.Printf("agentsim: %s: %v", srv.Addr, err)
			}
		}()
		go f.autoAnnounce(ctx, agent)
	}
	return nil
}

// autoAnnounce waits for a connection and immediately reports the
// simulated browser as up, then holds the line until ctx ends. A real
// agent does the equivalent the moment its CDP endpoint answers.
func (f *Fleet) autoAnnounce(ctx context.Context, agent *Agent) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !agent.WaitConnected(30 * time.Second) {
			continue
		}
		id := uuid.NewString()
		if err := agent.SetState(id, "127.0.0.1"); err != nil {
			f.logger.Printf("agentsim: setState failed: %v", err)
		}
		<-ctx.Done()
		return
	}
}

// Stop shuts every listener down.
func (f *Fleet) Stop(ctx context.Context) {
	for _, srv := range f.servers {
		srv.Shutdown(ctx)
	}
}

package driver

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// dockerInspectEntry is the subset of `docker inspect` JSON this
// package understands, modeled on the teacher's limaListEntry
// (internal/lima/lima.go) — a narrow struct matching only the fields
// the pool needs, tolerant of the rest of the payload.
type dockerInspectEntry struct {
	Name    string `json:"Name"`
	Created string `json:"Created"`
	Config  struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
	State struct {
		Running bool `json:"Running"`
	} `json:"State"`
	NetworkSettings struct {
		Ports map[string][]struct {
			HostPort string `json:"HostPort"`
		} `json:"Ports"`
	} `json:"NetworkSettings"`
}

func parseInspectOutput(name, out string) (*Inspection, error) {
	var entries []dockerInspectEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		return nil, fmt.Errorf("parsing inspect output for %s: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no inspect data for %s", name)
	}
	e := entries[0]

	created, _ := time.Parse(time.RFC3339Nano, e.Created)

	ports := make(PortMap)
	for containerPort, bindings := range e.NetworkSettings.Ports {
		internal := strings.TrimSuffix(containerPort, "/tcp")
		var internalPort int
		fmt.Sscanf(internal, "%d", &internalPort)
		for _, b := range bindings {
			var hostPort int
			fmt.Sscanf(b.HostPort, "%d", &hostPort)
			if hostPort > 0 {
				ports[hostPort] = internalPort
			}
		}
	}

	return &Inspection{
		Name:      strings.TrimPrefix(e.Name, "/"),
		Labels:    e.Config.Labels,
		CreatedAt: created,
		Ports:     ports,
		Running:   e.State.Running,
	}, nil
}

// ParseStatusLine parses one line of `docker ps` output that has
// already been split on whitespace, returning the container name and
// whether it looks well-formed: a status line lacking four
// whitespace-separated fields yields ok=false. Nothing in this module
// calls it; Supervisor.BrowsersFromRuntime builds its records from
// ListByPrefix and Inspect instead.
func ParseStatusLine(fields []string) (name string, ok bool) {
	if len(fields) < 4 {
		return "", false
	}
	return fields[len(fields)-1], true
}

package lifecycle

import "github.com/oddstack/browserpool/internal/slot"

// Mode selects between full-lifecycle (this service creates, destroys,
// and re-creates containers) and manage-only (it adopts pre-existing
// containers and only restarts them). spec.md §9 lifts the
// process-environment MANAGE_ONLY flag to this single field.
type Mode int

const (
	ModeFull Mode = iota
	ModeManageOnly
)

// Config is the Supervisor's configuration surface (spec.md §6).
type Config struct {
	Image  string
	Prefix string
	N      int

	// Port bases. Name and Debugger share BaseBrowserPort, matching
	// spec.md §3's "name — stable identifier derived from
	// prefix-<basePort+i>" and §8's worked example (bases
	// 10222/7070/15900 -> slot names bx-10222, bx-10223).
	BaseBrowserPort int // debugger port base; also the name-deriving base
	BaseAppPort     int
	BaseVNCPort     int

	Resolution slot.Viewport

	LaunchArgs           map[string]string
	AdditionalDockerArgs []string

	MaxRetries   int
	KillWaitTime int // milliseconds

	Mode Mode

	// ConnectionHost, when set, overrides the host used to dial a
	// slot's agent in full-lifecycle mode (BROWSER_CONNECTION_HOST).
	ConnectionHost string
}

// WhitelistedResolutions is the set of resolutions reInitWithResolution
// permits (spec.md §4.4).
var WhitelistedResolutions = map[string]slot.Viewport{
	"1280x1024": {Width: 1280, Height: 1024},
	"1920x1080": {Width: 1920, Height: 1080},
	"1366x768":  {Width: 1366, Height: 768},
	"1536x864":  {Width: 1536, Height: 864},
	"1280x720":  {Width: 1280, Height: 720},
	"1440x900":  {Width: 1440, Height: 900},
	"1280x2400": {Width: 1280, Height: 2400},
}

func (c Config) portsFor(index int) slot.Ports {
	return slot.Ports{
		App:      c.BaseAppPort + index,
		Debugger: c.BaseBrowserPort + index,
		VNC:      c.BaseVNCPort + index,
	}
}

func (c Config) nameFor(index int) string {
	return nameForPrefix(c.Prefix, c.BaseBrowserPort+index)
}

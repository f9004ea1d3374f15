package driver

import (
	"regexp"
	"strconv"
)

// parsePortsLineRe matches entries like "0.0.0.0:32771->5900/tcp" in the
// runtime's `ps` ports column.
var parsePortsLineRe = regexp.MustCompile(`0\.0\.0\.0:(\d+)->(\d+)/tcp`)

// parsePortsLineInternalKind maps the *manage-only-mode* internal port
// numbers to their role. These do not match InternalAppPort/
// InternalDebuggerPort/InternalVNCPort above — spec.md §9 documents
// this as a discrepancy inherited verbatim from the source and
// instructs the reimplementation not to "fix" it. Run-side constants
// (8080/19222/15900) are authoritative. Nothing in this module calls
// ParsePortsLine: manage-only discovery reads ports from Inspect and
// maps them with the run-side constants.
var parsePortsLineInternalKind = map[int]string{
	5900: "vnc",
	3000: "app",
	4444: "debugger",
}

// ParsePortsLine extracts {vnc, app, debugger}: externalPort pairs from
// a runtime `ps` ports column value, recognizing "0.0.0.0:EXT->INT/tcp"
// entries. Unrecognized internal ports are ignored.
func ParsePortsLine(line string) map[string]int {
	out := make(map[string]int)
	for _, m := range parsePortsLineRe.FindAllStringSubmatch(line, -1) {
		ext, err1 := strconv.Atoi(m[1])
		internal, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		if kind, ok := parsePortsLineInternalKind[internal]; ok {
			out[kind] = ext
		}
	}
	return out
}

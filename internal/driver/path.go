package driver

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// platformDefaultDirs returns the platform-specific default install
// locations for the container runtime CLI, in priority order
// (spec.md §4.1 "Binary discovery"). No pack repo demonstrates this
// pattern; it is written directly from the spec against the standard
// library (runtime.GOOS + path/filepath), since a CLI-discovery
// concern like this has no natural third-party home.
func platformDefaultDirs() []string {
	switch runtime.GOOS {
	case "windows":
		programFiles := os.Getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		return []string{filepath.Join(programFiles, "Docker", "Docker", "resources", "bin")}
	case "darwin":
		return []string{
			"/usr/local/bin",
			"/opt/homebrew/bin",
			"/Applications/Docker.app/Contents/Resources/bin",
		}
	default: // linux and everything else
		return []string{"/usr/bin", "/usr/local/bin", "/snap/bin"}
	}
}

// AssemblePath prefixes the platform default locations ahead of the
// inherited PATH so a well-known install is found even when the
// process's PATH was stripped (e.g. launched from a service manager).
func AssemblePath() string {
	defaults := platformDefaultDirs()
	inherited := os.Getenv("PATH")
	if inherited == "" {
		return strings.Join(defaults, string(os.PathListSeparator))
	}
	return strings.Join(defaults, string(os.PathListSeparator)) + string(os.PathListSeparator) + inherited
}

// DiscoverBinary finds the runtime CLI on path, preferring DOCKER_PATH
// when set.
func DiscoverBinary(path string) (string, error) {
	if override := os.Getenv("DOCKER_PATH"); override != "" {
		return override, nil
	}
	oldPath := os.Getenv("PATH")
	defer os.Setenv("PATH", oldPath)
	os.Setenv("PATH", path)
	return exec.LookPath("docker")
}

// runtimeEnvVars are the runtime-specific environment variables
// forwarded to every driver invocation (spec.md §6).
var runtimeEnvVars = []string{"DOCKER_HOST", "DOCKER_TLS_VERIFY", "DOCKER_CERT_PATH"}

// RuntimeEnv builds the environment passed to exec.Cmd: the assembled
// PATH plus whichever runtime-specific variables are set in the
// process environment.
func RuntimeEnv(path string) []string {
	env := []string{"PATH=" + path}
	for _, name := range runtimeEnvVars {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return env
}

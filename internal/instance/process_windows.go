//go:build windows

package instance

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/terracebot/terrace/internal/logging"
)

// OSProbe is the tasklist/taskkill backed ProcessProbe.
type OSProbe struct{}

// NewOSProbe returns the platform process probe.
func NewOSProbe() *OSProbe {
	return &OSProbe{}
}

// IsRunning reports whether any process matches the executable name.
func (p *OSProbe) IsRunning(namePattern string) bool {
	out, err := exec.Command("tasklist", "/FO", "CSV", "/NH",
		"/FI", fmt.Sprintf("IMAGENAME eq %s*", namePattern)).Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(out)), strings.ToLower(namePattern))
}

// TerminateByPort kills processes whose command line carries the given
// remote-debugging port. Windows has no pgrep -f, so the command lines are
// read through WMI.
func (p *OSProbe) TerminateByPort(port int) error {
	pattern := fmt.Sprintf("remote-debugging-port=%d", port)
	query := fmt.Sprintf(
		`Get-CimInstance Win32_Process | Where-Object { $_.CommandLine -like '*%s*' } | Select-Object -ExpandProperty ProcessId`,
		pattern)

	out, err := exec.Command("powershell", "-NoProfile", "-Command", query).Output()
	if err != nil {
		return nil // no matches
	}

	log := logging.Component("probe")
	var firstErr error
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid <= 0 {
			continue
		}

		log.Info("terminating leftover browser process", "pid", pid, "port", port)
		if err := exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("taskkill pid %d: %w", pid, err)
		}
	}
	return firstErr
}

//go:build !windows

package instance

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/terracebot/terrace/internal/logging"
)

// OSProbe is the pgrep/ps backed ProcessProbe.
type OSProbe struct{}

// NewOSProbe returns the platform process probe.
func NewOSProbe() *OSProbe {
	return &OSProbe{}
}

// IsRunning reports whether any process matches the executable name.
func (p *OSProbe) IsRunning(namePattern string) bool {
	err := exec.Command("pgrep", "-f", namePattern).Run()
	return err == nil
}

// TerminateByPort kills processes whose command line carries the given
// remote-debugging port. The port match is what keeps this scoped to the
// one browser we launched; matching by executable name alone would also
// hit browser windows we never owned.
func (p *OSProbe) TerminateByPort(port int) error {
	pattern := fmt.Sprintf("remote-debugging-port=%d", port)
	out, err := exec.Command("pgrep", "-f", pattern).Output()
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

		// pgrep -f can be fuzzy; confirm the command line really carries
		// our port before killing.
		cmdline, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
		if err != nil || !strings.Contains(string(cmdline), pattern) {
			continue
		}

		log.Info("terminating leftover browser process", "pid", pid, "port", port)
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	return firstErr
}

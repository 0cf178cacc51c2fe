// Package browser provides cross-platform functionality for opening URLs in the default web browser.
// It abstracts the underlying operating system commands and provides a simple interface.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// seams for tests
var (
	openRun  = open.Run
	lookPath = exec.LookPath
	goos     = runtime.GOOS
	startCmd = func(cmd *exec.Cmd) error { return cmd.Start() }
)

// OpenURL opens the specified URL in the default web browser.
// It first attempts to use a platform-agnostic library and falls back to
// platform-specific commands if that fails.
func OpenURL(url string) error {
	err := openRun(url)
	if err == nil {
		log.Debug("opened URL using open-golang")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)

	name, args, err := browserCommand(url)
	if err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	log.Debugf("running command: %s %v", name, args)
	if err = startCmd(cmd); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}

// IsAvailable reports whether a command to open a web browser exists on this system.
func IsAvailable() bool {
	_, _, err := browserCommand("about:blank")
	return err == nil
}

// browserCommand resolves the OS-specific command that opens url.
func browserCommand(url string) (string, []string, error) {
	switch goos {
	case "darwin":
		if _, err := lookPath("open"); err != nil {
			return "", nil, fmt.Errorf("open command not found: %w", err)
		}
		return "open", []string{url}, nil
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}, nil
	case "linux", "freebsd", "openbsd", "netbsd":
		for _, candidate := range linuxBrowsers {
			if _, err := lookPath(candidate); err == nil {
				return candidate, []string{url}, nil
			}
		}
		return "", nil, fmt.Errorf("no suitable browser found on %s", goos)
	default:
		return "", nil, fmt.Errorf("unsupported operating system: %s", goos)
	}
}

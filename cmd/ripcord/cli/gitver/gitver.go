// Package gitver detects the installed git binary and verifies it meets the
// minimum version Ripcord needs. The shadow store shells out to git for reset
// and clean, so a missing or ancient binary must fail initialization up front
// rather than corrupting a restore halfway through.
package gitver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// MinVersion is the oldest git version the shadow store is tested against.
const MinVersion = "2.25.0"

// ErrGitNotFound indicates no git executable is available on PATH.
var ErrGitNotFound = errors.New("git executable not found in PATH")

// ErrGitTooOld indicates the installed git is older than MinVersion.
var ErrGitTooOld = errors.New("git version is older than minimum supported")

// versionRegex extracts the numeric version from `git version` output, which
// varies by platform: "git version 2.39.2", "git version 2.39.2 (Apple
// Git-143)", "git version 2.41.0.windows.1".
var versionRegex = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

// Version returns the installed git version (e.g. "2.39.2").
// Returns ErrGitNotFound if no git binary is on PATH.
func Version(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGitNotFound, err)
	}

	out, err := exec.CommandContext(ctx, "git", "version").Output()
	if err != nil {
		return "", fmt.Errorf("running git version: %w", err)
	}

	return parseVersion(string(out))
}

// Check verifies the git binary is present and at least MinVersion.
// Returns the detected version on success.
func Check(ctx context.Context) (string, error) {
	version, err := Version(ctx)
	if err != nil {
		return "", err
	}
	if !isSupported(version) {
		return version, fmt.Errorf("%w: found %s, need %s or newer", ErrGitTooOld, version, MinVersion)
	}
	return version, nil
}

// parseVersion extracts the numeric version from `git version` output.
func parseVersion(output string) (string, error) {
	matches := versionRegex.FindStringSubmatch(strings.TrimSpace(output))
	if len(matches) < 2 {
		return "", fmt.Errorf("unrecognized git version output: %q", output)
	}
	return matches[1], nil
}

// isSupported compares a detected version against MinVersion using semantic
// versioning. Returns true if version >= MinVersion.
func isSupported(version string) bool {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	min := MinVersion
	if !strings.HasPrefix(min, "v") {
		min = "v" + min
	}
	return semver.Compare(v, min) >= 0
}

//go:build integration

package integration

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
)

const promptTimeout = 10 * time.Second

// RunCommandInteractive executes a CLI command under a pty so that
// confirmation prompts render. ACCESSIBLE=1 switches huh to plain stdin
// prompts, which is what makes scripted responses possible. The respond
// function drives the pty and returns whatever output it consumed.
func (env *TestEnv) RunCommandInteractive(args []string, respond func(ptty *os.File) string) (string, error) {
	env.T.Helper()

	cmd := exec.Command(getTestBinary(), args...)
	cmd.Dir = env.RepoDir
	cmd.Env = append(os.Environ(),
		"RIPCORD_METRICS_OPTOUT=1",
		"TERM=xterm",
		"ACCESSIBLE=1",
	)

	ptty, err := pty.Start(cmd)
	if err != nil {
		return "", fmt.Errorf("failed to start pty: %w", err)
	}
	defer ptty.Close()

	consumed := make(chan string, 1)
	go func() { consumed <- respond(ptty) }()

	var responded string
	select {
	case responded = <-consumed:
	case <-time.After(promptTimeout):
		env.T.Log("Warning: respond function timed out")
	}

	// Drain whatever the command prints after the prompt was answered.
	var rest bytes.Buffer
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_, _ = io.Copy(&rest, ptty)
	}()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	var runErr error
	select {
	case runErr = <-waited:
	case <-time.After(promptTimeout):
		_ = cmd.Process.Kill()
		runErr = fmt.Errorf("process timed out")
	}

	select {
	case <-drained:
	case <-time.After(time.Second):
	}

	return responded + rest.String(), runErr
}

// WaitForPromptAndRespond reads from the pty until promptSubstring shows
// up, then writes response. Returns the output read so far.
func WaitForPromptAndRespond(ptty *os.File, promptSubstring, response string, timeout time.Duration) (string, error) {
	var output bytes.Buffer
	buf := make([]byte, 1024)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		// Bounded reads keep the loop responsive to the deadline.
		_ = ptty.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := ptty.Read(buf)
		if n > 0 {
			output.Write(buf[:n])
			if strings.Contains(output.String(), promptSubstring) {
				_, _ = ptty.WriteString(response)
				return output.String(), nil
			}
		}
		if err != nil && !os.IsTimeout(err) {
			return output.String(), err
		}
	}
	return output.String(), fmt.Errorf("timeout waiting for prompt containing %q", promptSubstring)
}

// ConfirmPrompt returns a respond function that answers the next yes/no
// prompt with the given input, typically "y\n" or "n\n".
func ConfirmPrompt(t *testing.T, answer string) func(ptty *os.File) string {
	return func(ptty *os.File) string {
		out, err := WaitForPromptAndRespond(ptty, "[y/N]", answer, promptTimeout)
		if err != nil {
			t.Logf("Warning: %v", err)
		}
		return out
	}
}

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// workMount is where the volume appears inside the sandbox.
const workMount = "/work"

// Runtime selects how the processor is isolated.
const (
	RuntimeBwrap = "bwrap" // bubblewrap namespaces + prlimit ceilings
	RuntimeNone  = "none"  // direct execution, for development and tests only
)

var (
	// ErrTimedOut reports that the attempt hit its wall-clock ceiling and the
	// process tree was killed.
	ErrTimedOut = errors.New("sandbox timed out")
	// ErrSetupFailed reports a provisioning failure before the job ran at all.
	// Setup failures are host-side and retryable.
	ErrSetupFailed = errors.New("sandbox setup failed")
)

// Spec describes one job attempt to execute.
type Spec struct {
	JobID     string
	Attempt   int
	Kind      string
	InputName string // original filename, extension intact
	Input     []byte
}

// manifest is written as job.json beside the input so the processor learns
// what it is looking at without trusting the filesystem.
type manifest struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Input   string `json:"input"`
	Attempt int    `json:"attempt"`
}

// Volume is one provisioned per-attempt directory. Teardown is safe to call
// any number of times; the directory is removed at most once.
type Volume struct {
	Path string

	teardown sync.Once
}

// Teardown destroys the volume. Idempotent.
func (v *Volume) Teardown() {
	v.teardown.Do(func() {
		if err := os.RemoveAll(v.Path); err != nil {
			slog.Warn("volume teardown failed", slog.String("path", v.Path), slog.String("error", err.Error()))
		}
	})
}

// InputPath returns the staged input file inside the volume.
func (v *Volume) InputPath(spec Spec) string {
	return filepath.Join(v.Path, spec.InputName)
}

// Executor provisions volumes and runs the processor command inside them.
type Executor struct {
	Root             string   // parent directory for per-attempt volumes
	Runtime          string   // RuntimeBwrap or RuntimeNone
	ToolchainDir     string   // host directory bound read-only at /opt/toolchain
	ProcessorCommand []string // the command run inside the sandbox; volume path appended
	Limits           Limits
}

// Provision creates the per-attempt volume, populated only with the input
// artifact and the job manifest. Failures wrap ErrSetupFailed.
func (e *Executor) Provision(spec Spec) (*Volume, error) {
	name := fmt.Sprintf("job-%s-%s", spec.JobID, uuid.NewString()[:8])
	path := filepath.Join(e.Root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create volume: %v", ErrSetupFailed, err)
	}

	vol := &Volume{Path: path}
	if err := os.WriteFile(filepath.Join(path, spec.InputName), spec.Input, 0o644); err != nil {
		vol.Teardown()
		return nil, fmt.Errorf("%w: stage input: %v", ErrSetupFailed, err)
	}

	m, err := json.Marshal(manifest{ID: spec.JobID, Kind: spec.Kind, Input: spec.InputName, Attempt: spec.Attempt})
	if err != nil {
		vol.Teardown()
		return nil, fmt.Errorf("%w: encode manifest: %v", ErrSetupFailed, err)
	}
	if err := os.WriteFile(filepath.Join(path, "job.json"), m, 0o644); err != nil {
		vol.Teardown()
		return nil, fmt.Errorf("%w: write manifest: %v", ErrSetupFailed, err)
	}

	return vol, nil
}

// Run executes the processor once against the volume, bounded by the caller's
// context deadline. On deadline the whole process group is killed and
// ErrTimedOut is returned. The caller owns teardown.
func (e *Executor) Run(ctx context.Context, vol *Volume) error {
	limits := e.Limits.withDefaults()

	var argv []string
	switch e.Runtime {
	case RuntimeNone:
		argv = append(append([]string{}, e.ProcessorCommand...), vol.Path)
	default:
		command := append(append([]string{}, e.ProcessorCommand...), workMount)
		inner := bwrapArgs(vol.Path, e.ToolchainDir, limits, command)
		argv = prlimitArgs(limits, append([]string{"bwrap"}, inner...))
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole group so nothing the processor forked survives.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s", ErrTimedOut, time.Since(start).Round(time.Second))
	}
	if ctx.Err() == context.Canceled {
		// Worker shutdown, not a processor fault.
		return fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("processor exit status %d: %s", exitErr.ExitCode(), firstLine(out))
		}
		// The runtime binary itself could not start.
		return fmt.Errorf("%w: %v", ErrSetupFailed, err)
	}
	return nil
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' {
			return string(out[:i])
		}
	}
	return string(out)
}

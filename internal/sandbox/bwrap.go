package sandbox

import (
	"fmt"
	"os"
	"strconv"
)

// bwrapArgs builds the bubblewrap argument list for one attempt: every
// namespace unshared (no network), toolchain and system libraries bound
// read-only, the volume as the only writable mount, tmpfs scratch, minimal
// /proc and /dev, cleared environment.
func bwrapArgs(volume, toolchainDir string, limits Limits, command []string) []string {
	args := []string{
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--clearenv",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	}

	// Read-only system binds; optional ones are skipped when absent so the
	// same profile works across distributions.
	for _, path := range []string{"/usr", "/bin", "/lib", "/lib64", "/etc/alternatives"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		args = append(args, "--ro-bind", path, path)
	}
	if toolchainDir != "" {
		args = append(args, "--ro-bind", toolchainDir, "/opt/toolchain")
	}

	// The volume is the only writable path the job ever sees.
	args = append(args,
		"--bind", volume, workMount,
		"--chdir", workMount,
		"--setenv", "HOME", workMount,
		"--setenv", "PATH", "/usr/bin:/bin:/opt/toolchain/bin",
	)

	args = append(args, "--")
	args = append(args, command...)
	return args
}

// prlimitArgs wraps argv with prlimit ceilings for address space, pid count
// and CPU time. bwrap itself does not enforce resource limits.
func prlimitArgs(limits Limits, argv []string) []string {
	cpuSeconds := int64(limits.Timeout.Seconds()) * int64(limits.CPUs)
	wrapped := []string{
		"prlimit",
		"--as=" + strconv.FormatInt(limits.MemoryBytes, 10),
		"--nproc=" + strconv.Itoa(limits.MaxPids),
		fmt.Sprintf("--cpu=%d", cpuSeconds),
	}
	return append(wrapped, argv...)
}

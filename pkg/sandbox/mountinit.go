package sandbox

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// RunMountInit is the hidden re-exec entrypoint that applies filesystem
// containment before a sandboxed command starts. It is invoked as the
// sandbox binary itself, already placed inside a fresh mount namespace by
// the parent's Cloneflags (see isolationSysProcAttr): it bind-mounts the
// repo root read-only, remounts scratch as a clean writable tmpfs, then
// execs the real command in its own place so the mount namespace carries
// over unchanged. It never returns on success — syscall.Exec replaces the
// process image.
//
// Invoked as: dhi _sandbox_mount_init --repo-root <path> --scratch <path> -- <argv...>
func RunMountInit(args []string, stderr io.Writer) int {
	repoRoot, scratch, argv, err := parseMountInitArgs(args)
	if err != nil {
		fmt.Fprintln(stderr, "sandbox: "+err.Error())
		return 1
	}

	if repoRoot != "" {
		if err := bindMountReadOnly(repoRoot); err != nil {
			fmt.Fprintf(stderr, "sandbox: bind-mount repo root read-only: %v\n", err)
			return 1
		}
	}
	if err := mountScratchTmpfs(scratch); err != nil {
		fmt.Fprintf(stderr, "sandbox: mount scratch tmpfs: %v\n", err)
		return 1
	}

	if len(argv) == 0 {
		fmt.Fprintln(stderr, "sandbox: no command given to _sandbox_mount_init")
		return 1
	}
	binary, err := exec.LookPath(argv[0])
	if err != nil {
		fmt.Fprintf(stderr, "sandbox: %v\n", err)
		return 1
	}
	if err := syscall.Exec(binary, argv, os.Environ()); err != nil {
		fmt.Fprintf(stderr, "sandbox: exec %s: %v\n", binary, err)
		return 1
	}
	return 0
}

func parseMountInitArgs(args []string) (repoRoot, scratch string, argv []string, err error) {
	// args[0] is the dhi binary path, args[1] is "_sandbox_mount_init".
	i := 2
	for ; i < len(args); i++ {
		switch args[i] {
		case "--repo-root":
			i++
			if i >= len(args) {
				return "", "", nil, fmt.Errorf("--repo-root requires a value")
			}
			repoRoot = args[i]
		case "--scratch":
			i++
			if i >= len(args) {
				return "", "", nil, fmt.Errorf("--scratch requires a value")
			}
			scratch = args[i]
		case "--":
			return repoRoot, scratch, args[i+1:], nil
		default:
			return "", "", nil, fmt.Errorf("unrecognized flag %q", args[i])
		}
	}
	return "", "", nil, fmt.Errorf("missing -- argv separator")
}

// bindMountReadOnly bind-mounts path onto itself, then remounts that bind
// read-only. A plain read-only remount without the initial bind would apply
// to the filesystem the path lives on, not just path itself.
func bindMountReadOnly(path string) error {
	if err := syscall.Mount(path, path, "", syscall.MS_BIND, ""); err != nil {
		return fmt.Errorf("bind %s: %w", path, err)
	}
	flags := uintptr(syscall.MS_BIND | syscall.MS_REMOUNT | syscall.MS_RDONLY)
	if err := syscall.Mount(path, path, "", flags, ""); err != nil {
		return fmt.Errorf("remount %s read-only: %w", path, err)
	}
	return nil
}

// mountScratchTmpfs replaces scratch with a fresh, empty, writable tmpfs so
// the only writable location a sandboxed command sees is guaranteed clean
// of any prior run's state.
func mountScratchTmpfs(scratch string) error {
	if scratch == "" {
		return fmt.Errorf("scratch path required")
	}
	return syscall.Mount("tmpfs", scratch, "tmpfs", 0, "size=512m")
}

//go:build linux

package sandbox

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"strconv"

	"github.com/elastic/go-seccomp-bpf"
	"github.com/moby/sys/reexec"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// initName is argv[0] of the re-executed helper that applies limits and then execs the target.
const initName = "jobbox-sandbox-init"

// exitCodeExecFailed mirrors the shell's "command not found" status.
const exitCodeExecFailed = 127

// deniedSyscalls never succeed inside the sandbox when seccomp is enabled
var deniedSyscalls = []string{
	"ptrace",
	"mount",
	"umount2",
	"pivot_root",
	"swapon",
	"swapoff",
	"reboot",
	"kexec_load",
	"init_module",
	"finit_module",
	"delete_module",
	"setns",
	"unshare",
	"bpf",
	"perf_event_open",
	"keyctl",
	"add_key",
	"request_key",
}

func init() {
	reexec.Register(initName, sandboxInit)
}

// rlimitSpec is one setrlimit call. fallback is tried when resource cannot be set.
type rlimitSpec struct {
	name     string
	resource int
	cur, max uint64
	fallback *rlimitSpec
}

// limitSpecs translates Limits into independent setrlimit calls
func limitSpecs(l Limits) []rlimitSpec {
	specs := make([]rlimitSpec, 0, 6)

	if l.CPUSeconds > 0 {
		cpu := uint64(l.CPUSeconds)
		specs = append(specs, rlimitSpec{name: "cpu", resource: unix.RLIMIT_CPU, cur: cpu, max: cpu + 1})
	}
	if l.MemoryBytes > 0 {
		mem := uint64(l.MemoryBytes)
		specs = append(specs, rlimitSpec{
			name: "as", resource: unix.RLIMIT_AS, cur: mem, max: mem,
			fallback: &rlimitSpec{name: "data", resource: unix.RLIMIT_DATA, cur: mem, max: mem},
		})
	}
	if l.FileSizeBytes > 0 {
		fsize := uint64(l.FileSizeBytes)
		specs = append(specs, rlimitSpec{name: "fsize", resource: unix.RLIMIT_FSIZE, cur: fsize, max: fsize})
	}
	if l.OpenFiles > 0 {
		nofile := uint64(l.OpenFiles)
		specs = append(specs, rlimitSpec{name: "nofile", resource: unix.RLIMIT_NOFILE, cur: nofile, max: nofile})
	}
	specs = append(specs, rlimitSpec{name: "core", resource: unix.RLIMIT_CORE, cur: 0, max: 0})
	if l.Processes > 0 {
		nproc := uint64(l.Processes)
		specs = append(specs, rlimitSpec{name: "nproc", resource: unix.RLIMIT_NPROC, cur: nproc, max: nproc})
	}

	return specs
}

// applyLimits sets every limit it can and returns the names that took effect.
// A limit the platform rejects is skipped; it never stops the others.
func applyLimits(l Limits) []string {
	var applied []string
	for _, spec := range limitSpecs(l) {
		for s := &spec; s != nil; s = s.fallback {
			if err := unix.Setrlimit(s.resource, &unix.Rlimit{Cur: s.cur, Max: s.max}); err == nil {
				applied = append(applied, s.name)
				break
			}
		}
	}
	return applied
}

func installSeccomp() error {
	filter := seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy: seccomp.Policy{
			DefaultAction: seccomp.ActionAllow,
			Syscalls: []seccomp.SyscallGroup{
				{
					Action: seccomp.ActionErrno,
					Names:  deniedSyscalls,
				},
			},
		},
	}
	return seccomp.LoadFilter(filter)
}

// initArgs builds the helper argv for cmd
func initArgs(cmd *Command) []string {
	l := cmd.Limits
	args := []string{
		initName,
		"--cpu", strconv.Itoa(l.CPUSeconds),
		"--mem", strconv.FormatInt(l.MemoryBytes, 10),
		"--fsize", strconv.FormatInt(l.FileSizeBytes, 10),
		"--nofile", strconv.Itoa(l.OpenFiles),
		"--nproc", strconv.Itoa(l.Processes),
		"--seccomp=" + strconv.FormatBool(l.Seccomp),
		"--",
	}
	return append(args, cmd.Argv...)
}

// parseInitArgs is the inverse of initArgs, without the leading helper name
func parseInitArgs(args []string) (Limits, []string, error) {
	var l Limits
	fs := pflag.NewFlagSet(initName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&l.CPUSeconds, "cpu", 0, "CPU seconds")
	fs.Int64Var(&l.MemoryBytes, "mem", 0, "address space bytes")
	fs.Int64Var(&l.FileSizeBytes, "fsize", 0, "file size bytes")
	fs.IntVar(&l.OpenFiles, "nofile", 0, "open descriptors")
	fs.IntVar(&l.Processes, "nproc", 0, "processes")
	fs.BoolVar(&l.Seccomp, "seccomp", false, "install the syscall deny-list")

	if err := fs.Parse(args); err != nil {
		return Limits{}, nil, err
	}
	argv := fs.Args()
	if len(argv) == 0 {
		return Limits{}, nil, fmt.Errorf("no command provided")
	}
	return l, argv, nil
}

// sandboxInit runs inside the re-executed child. It never returns.
func sandboxInit() {
	limits, argv, err := parseInitArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
		os.Exit(exitCodeExecFailed)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandbox: %v\n", err)
		os.Exit(exitCodeExecFailed)
	}
	env := os.Environ()

	// Everything below runs under the new address-space ceiling.
	debug.SetGCPercent(-1)
	applyLimits(limits)
	if limits.Seccomp {
		_ = installSeccomp()
	}

	err = unix.Exec(path, argv, env)
	fmt.Fprintf(os.Stderr, "sandbox: exec %s: %v\n", argv[0], err)
	os.Exit(exitCodeExecFailed)
}

package guardian

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

var errStillRunning = errors.New("guardian: process still running")

// Lister enumerates host processes. Ranked: the gopsutil-backed lister is
// preferred, with a shell-utility fallback for environments where the
// library path fails.
type Lister interface {
	Name() string
	HostPIDs(executable string) ([]int32, error)
	ParentPID(pid int32) (int32, error)
}

// Killer terminates process trees by pid. Terminate is the polite variant,
// Kill the forceful one; both take the whole tree so spawned helper
// processes do not survive their root.
type Killer interface {
	Name() string
	Terminate(pid int32) error
	Kill(pid int32) error
	Exists(pid int32) bool
}

// sameExecutable compares process names against the host executable name,
// tolerating case and a missing .exe suffix.
func sameExecutable(name, executable string) bool {
	n := strings.ToUpper(strings.TrimSuffix(strings.ToUpper(name), ".EXE"))
	e := strings.ToUpper(strings.TrimSuffix(strings.ToUpper(executable), ".EXE"))
	return n == e
}

// psLister enumerates processes through gopsutil.
type psLister struct{}

func (l *psLister) Name() string { return "gopsutil" }

func (l *psLister) HostPIDs(executable string) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	var pids []int32
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue // process may have exited mid-scan
		}
		if sameExecutable(name, executable) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

func (l *psLister) ParentPID(pid int32) (int32, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return 0, err
	}
	return p.Ppid()
}

// psKiller terminates process trees through gopsutil, children first.
type psKiller struct{}

func (k *psKiller) Name() string { return "gopsutil" }

func (k *psKiller) collectTree(pid int32) []*process.Process {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}
	tree := []*process.Process{root}
	// Breadth-first over children; gopsutil's Children is one level deep.
	for i := 0; i < len(tree); i++ {
		children, err := tree[i].Children()
		if err != nil {
			continue
		}
		tree = append(tree, children...)
	}
	return tree
}

func (k *psKiller) Terminate(pid int32) error {
	tree := k.collectTree(pid)
	if len(tree) == 0 {
		return fmt.Errorf("guardian: pid %d not found", pid)
	}
	for i := len(tree) - 1; i >= 0; i-- {
		_ = tree[i].Terminate()
	}
	return nil
}

func (k *psKiller) Kill(pid int32) error {
	tree := k.collectTree(pid)
	if len(tree) == 0 {
		return nil // already gone, which is the goal
	}
	for i := len(tree) - 1; i >= 0; i-- {
		_ = tree[i].Kill()
	}
	return nil
}

func (k *psKiller) Exists(pid int32) bool {
	exists, err := process.PidExists(pid)
	return err == nil && exists
}

// utilLister shells out to OS process utilities. Last-resort path for when
// the library enumeration fails.
type utilLister struct{}

func (l *utilLister) Name() string { return "os-utility" }

func (l *utilLister) HostPIDs(executable string) ([]int32, error) {
	if runtime.GOOS == "windows" {
		return l.windowsHostPIDs(executable)
	}
	out, err := exec.Command("pgrep", "-x", strings.TrimSuffix(executable, ".EXE")).Output()
	if err != nil {
		return nil, err
	}
	return parsePIDLines(string(out)), nil
}

func (l *utilLister) windowsHostPIDs(executable string) ([]int32, error) {
	out, err := exec.Command("tasklist", "/FI", "IMAGENAME eq "+executable, "/FO", "CSV", "/NH").Output()
	if err != nil {
		return nil, err
	}
	var pids []int32
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(strings.ToUpper(line), strings.ToUpper(executable)) {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		pidStr := strings.Trim(strings.TrimSpace(fields[1]), `"`)
		if pid, err := strconv.ParseInt(pidStr, 10, 32); err == nil {
			pids = append(pids, int32(pid))
		}
	}
	return pids, nil
}

func (l *utilLister) ParentPID(pid int32) (int32, error) {
	if runtime.GOOS == "windows" {
		out, err := exec.Command("wmic", "process", "where",
			fmt.Sprintf("processid=%d", pid), "get", "parentprocessid", "/value").Output()
		if err != nil {
			return 0, err
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if v, ok := strings.CutPrefix(line, "ParentProcessId="); ok {
				ppid, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
				if err != nil {
					return 0, err
				}
				return int32(ppid), nil
			}
		}
		return 0, fmt.Errorf("guardian: no parent reported for pid %d", pid)
	}
	out, err := exec.Command("ps", "-o", "ppid=", "-p", strconv.Itoa(int(pid))).Output()
	if err != nil {
		return 0, err
	}
	ppid, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(ppid), nil
}

// utilKiller shells out to taskkill (Windows) or kill (elsewhere).
type utilKiller struct{}

func (k *utilKiller) Name() string { return "os-utility" }

func (k *utilKiller) Terminate(pid int32) error {
	if runtime.GOOS == "windows" {
		return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(int(pid))).Run()
	}
	return exec.Command("kill", "-TERM", strconv.Itoa(int(pid))).Run()
}

func (k *utilKiller) Kill(pid int32) error {
	if runtime.GOOS == "windows" {
		return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(int(pid))).Run()
	}
	return exec.Command("kill", "-KILL", strconv.Itoa(int(pid))).Run()
}

// Exists probes through the same OS utilities as the rest of the tier, so
// the fallback stays usable when the library enumeration is what failed.
func (k *utilKiller) Exists(pid int32) bool {
	if runtime.GOOS == "windows" {
		out, err := exec.Command("tasklist", "/FI",
			fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH").Output()
		if err != nil {
			return false
		}
		// tasklist exits 0 with an INFO banner when the filter matches
		// nothing; only a row quoting the pid counts.
		return strings.Contains(string(out), fmt.Sprintf(`"%d"`, pid))
	}
	return exec.Command("kill", "-0", strconv.Itoa(int(pid))).Run() == nil
}

func parsePIDLines(out string) []int32 {
	var pids []int32
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if pid, err := strconv.ParseInt(line, 10, 32); err == nil {
			pids = append(pids, int32(pid))
		}
	}
	return pids
}

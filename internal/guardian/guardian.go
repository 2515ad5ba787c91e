// Package guardian is the process-level safety net. It tracks the OS
// process ids of host instances created fresh by this program and, at
// shutdown or on demand, escalates through a chain of termination
// strategies that do not depend on the (possibly dead) automation handle.
// Tracked pids are plain identifiers with no live object references, which
// is exactly why cleanup still works after the handle becomes unusable.
package guardian

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/psantana5/excel-host/internal/metrics"
)

// Stopper is anything with a graceful shutdown path. Satisfied by
// *session.Session.
type Stopper interface {
	Stop(forceQuit bool)
}

// Guardian tracks host processes spawned by this program. Its own mutex is
// deliberately separate from the session access lock: cleanup may run from
// process-exit handlers outside the normal call path.
type Guardian struct {
	hostName string
	log      *zap.Logger

	mu       sync.Mutex
	tracked  map[int32]struct{}
	stoppers []Stopper

	listers []Lister
	killers []Killer
	ownPID  int32

	// exitWait bounds how long a polite terminate is given before the
	// forceful kill stage.
	exitWait time.Duration
}

// New creates a guardian for host processes named hostName (executable
// name, e.g. "EXCEL.EXE"), with the default ranked strategies: gopsutil
// first, OS utilities as fallback.
func New(hostName string, log *zap.Logger) *Guardian {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guardian{
		hostName: hostName,
		log:      log,
		tracked:  make(map[int32]struct{}),
		listers:  []Lister{&psLister{}, &utilLister{}},
		killers:  []Killer{&psKiller{}, &utilKiller{}},
		ownPID:   int32(os.Getpid()),
		exitWait: 3 * time.Second,
	}
}

// NewWithStrategies creates a guardian with explicit strategies and parent
// pid. Used by tests to substitute fakes.
func NewWithStrategies(hostName string, listers []Lister, killers []Killer, ownPID int32, log *zap.Logger) *Guardian {
	g := New(hostName, log)
	g.listers = listers
	g.killers = killers
	g.ownPID = ownPID
	g.exitWait = 50 * time.Millisecond
	return g
}

// SetExitWait overrides how long a polite terminate is given before the
// forceful kill stage.
func (g *Guardian) SetExitWait(d time.Duration) {
	if d > 0 {
		g.exitWait = d
	}
}

// RegisterSession adds a session to be stopped gracefully during cleanup.
func (g *Guardian) RegisterSession(s Stopper) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stoppers = append(g.stoppers, s)
}

// SnapshotHostPIDs lists the pids of every process matching the host
// executable name, using the first strategy that answers.
func (g *Guardian) SnapshotHostPIDs(name string) []int32 {
	for _, l := range g.listers {
		pids, err := l.HostPIDs(name)
		if err == nil {
			return pids
		}
		g.log.Debug("process listing failed, trying next strategy",
			zap.String("strategy", l.Name()), zap.Error(err))
	}
	return nil
}

// TrackFreshInstance records every pid present in after but not in before.
// Called immediately around a fresh host create; never called when
// attaching to an existing instance, since those processes are not ours to
// track or kill.
func (g *Guardian) TrackFreshInstance(before, after []int32) int {
	prior := make(map[int32]struct{}, len(before))
	for _, pid := range before {
		prior[pid] = struct{}{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, pid := range after {
		if _, ok := prior[pid]; ok {
			continue
		}
		g.tracked[pid] = struct{}{}
		n++
	}
	if n > 0 {
		g.log.Info("tracking fresh host processes", zap.Int("count", n))
	}
	return n
}

// TrackedPIDs returns the currently tracked pids.
func (g *Guardian) TrackedPIDs() []int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int32, 0, len(g.tracked))
	for pid := range g.tracked {
		out = append(out, pid)
	}
	return out
}

// ForceCleanupAll runs the full escalation chain. Every stage is attempted
// regardless of the previous stage's outcome, and no stage ever returns an
// error: correctness of cleanup must not depend on the success of any
// single step. Idempotent and safe with nothing tracked.
func (g *Guardian) ForceCleanupAll() {
	// Stage 1: graceful stop across all known sessions. A panicking
	// session must not abort the chain.
	g.mu.Lock()
	stoppers := make([]Stopper, len(g.stoppers))
	copy(stoppers, g.stoppers)
	g.mu.Unlock()
	for _, s := range stoppers {
		g.safeStop(s)
	}

	// Stage 2: repeated reference-release passes so finalizer-held
	// automation references stop pinning the host process.
	for i := 0; i < 3; i++ {
		runtime.GC()
	}

	// Stage 3: OS-level termination of every tracked process tree.
	g.mu.Lock()
	pids := make([]int32, 0, len(g.tracked))
	for pid := range g.tracked {
		pids = append(pids, pid)
	}
	g.tracked = make(map[int32]struct{})
	g.mu.Unlock()
	for _, pid := range pids {
		if g.terminateTree(pid) {
			metrics.ProcessesTerminated.WithLabelValues("tracked").Inc()
		}
	}

	// Stage 4: sweep for host processes parented by us that tracking
	// missed (thread-start races around the create snapshot).
	for _, pid := range g.orphanedHostPIDs() {
		if g.terminateTree(pid) {
			metrics.ProcessesTerminated.WithLabelValues("sweep").Inc()
		}
	}
}

func (g *Guardian) safeStop(s Stopper) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("session stop panicked during cleanup", zap.Any("panic", r))
			metrics.SoftFailures.WithLabelValues("guardian_stop").Inc()
		}
	}()
	s.Stop(false)
}

// terminateTree escalates per process: polite terminate, bounded wait for
// exit, then forceful kill, across the ranked killer strategies. Reports
// whether any strategy claimed the process.
func (g *Guardian) terminateTree(pid int32) bool {
	for _, k := range g.killers {
		if err := k.Terminate(pid); err != nil {
			g.log.Debug("terminate failed, trying next strategy",
				zap.String("strategy", k.Name()), zap.Int32("pid", pid), zap.Error(err))
			continue
		}
		if g.waitForExit(k, pid) {
			g.log.Info("host process terminated", zap.Int32("pid", pid), zap.String("strategy", k.Name()))
			return true
		}
		if err := k.Kill(pid); err != nil {
			g.log.Debug("kill failed, trying next strategy",
				zap.String("strategy", k.Name()), zap.Int32("pid", pid), zap.Error(err))
			continue
		}
		g.log.Info("host process killed", zap.Int32("pid", pid), zap.String("strategy", k.Name()))
		return true
	}
	metrics.SoftFailures.WithLabelValues("guardian_kill").Inc()
	return false
}

// waitForExit polls for the process to disappear after a polite terminate.
func (g *Guardian) waitForExit(k Killer, pid int32) bool {
	interval := g.exitWait / 10
	if interval <= 0 {
		interval = time.Millisecond
	}
	check := func() error {
		if k.Exists(pid) {
			return errStillRunning
		}
		return nil
	}
	err := backoff.Retry(check, backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), 10))
	return err == nil
}

// orphanedHostPIDs finds host processes whose parent is this program.
func (g *Guardian) orphanedHostPIDs() []int32 {
	var out []int32
	for _, l := range g.listers {
		pids, err := l.HostPIDs(g.hostName)
		if err != nil {
			g.log.Debug("sweep listing failed, trying next strategy",
				zap.String("strategy", l.Name()), zap.Error(err))
			continue
		}
		for _, pid := range pids {
			ppid, err := l.ParentPID(pid)
			if err != nil {
				continue
			}
			if ppid == g.ownPID {
				out = append(out, pid)
			}
		}
		return out
	}
	return out
}

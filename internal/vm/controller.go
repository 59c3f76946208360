package vm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/javanstorm/agentvm/internal/logging"
	"github.com/javanstorm/agentvm/pkg/hypervisor"
)

// State is the controller's lifecycle state. Exactly one value exists
// per controller at any time.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	defaultHealthTimeout   = 2 * time.Second
	defaultWarmIdleTimeout = 5 * time.Minute
	defaultCmdline         = "console=hvc0 root=/dev/vda rw"
	stopGraceTimeout       = 30 * time.Second
	killWaitTimeout        = 5 * time.Second
)

// ControllerConfig is the immutable per-guest configuration. It may
// only change while the guest is stopped.
type ControllerConfig struct {
	CPUs       int
	MemoryMB   int
	KernelPath string
	InitrdPath string
	DiskPath   string
	Cmdline    string

	// NetworkMode is "nat" or "none".
	NetworkMode string
	MACAddress  string

	// AutoStart makes Execute boot a stopped guest transparently.
	AutoStart bool

	// KeepWarm leaves the guest running between commands, bounded by
	// WarmIdleTimeout. When disabled, callers stop the guest explicitly.
	KeepWarm        bool
	WarmIdleTimeout time.Duration

	// HealthTimeout bounds the health-check probe.
	HealthTimeout time.Duration

	// DataDir holds the console log and persistent state.
	DataDir string
}

// Executor runs a command inside the running guest.
type Executor interface {
	Run(ctx context.Context, command string, timeout time.Duration) (CommandResult, error)
}

// Controller owns the guest handle and its state machine. All
// state-mutating operations are serialized behind one mutex: overlapping
// start/stop/pause/snapshot sequences against one guest corrupt it.
type Controller struct {
	mu        sync.Mutex
	cfg       ControllerConfig
	folders   *SharedFolders
	executor  Executor
	stateFile *StateFile
	logger    *slog.Logger

	// driverFactory is swapped in tests.
	driverFactory func() (hypervisor.Driver, error)

	driver  hypervisor.Driver // the guest handle; non-nil between start and stop
	exited  chan struct{}     // closed by the monitor when the guest exits
	state   State
	lastErr error

	// Idle eviction. The generation counter makes a timer that fires
	// concurrently with fresh activity a no-op.
	idleTimer *time.Timer
	idleGen   uint64

	// bootGen invalidates monitor goroutines from earlier boots.
	bootGen uint64
}

// NewController builds a controller in the Stopped state. A nil folders
// or executor argument leaves the corresponding feature empty.
func NewController(cfg ControllerConfig, folders *SharedFolders, executor Executor, logger *slog.Logger) *Controller {
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.WarmIdleTimeout <= 0 {
		cfg.WarmIdleTimeout = defaultWarmIdleTimeout
	}
	if cfg.Cmdline == "" {
		cfg.Cmdline = defaultCmdline
	}
	if folders == nil {
		folders = NewSharedFolders()
	}
	return &Controller{
		cfg:           cfg,
		folders:       folders,
		executor:      executor,
		stateFile:     NewStateFile(cfg.DataDir),
		logger:        logging.Ensure(logger),
		driverFactory: hypervisor.NewDriver,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the failure that moved the controller into Error,
// or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Folders returns the shared-folder translator. Translation is safe at
// any time; mutation goes through AddFolder/RemoveFolder.
func (c *Controller) Folders() *SharedFolders {
	return c.folders
}

// AddFolder registers a host directory for sharing. Rejected unless the
// guest is stopped: mount tags are positional and the guest's mount
// table must not drift from the host-side list.
func (c *Controller) AddFolder(hostPath string, readOnly bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopped {
		return fmt.Errorf("%w (state %s)", ErrFoldersFrozen, c.state)
	}
	c.folders.Add(hostPath, readOnly)
	return nil
}

// RemoveFolder unregisters a host directory. Same stopped-only guard as
// AddFolder; removal renumbers the tags of all later entries.
func (c *Controller) RemoveFolder(hostPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopped {
		return fmt.Errorf("%w (state %s)", ErrFoldersFrozen, c.state)
	}
	if !c.folders.Remove(hostPath) {
		return fmt.Errorf("vm: folder not registered: %s", hostPath)
	}
	return nil
}

// Start boots the guest. A no-op when already starting or running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	switch c.state {
	case StateStarting, StateRunning:
		return nil
	case StatePaused:
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, c.state)
	case StateError:
		return fmt.Errorf("%w: start from error (stop to reset): %v", ErrInvalidTransition, c.lastErr)
	}

	c.state = StateStarting
	c.logger.Info("starting guest", "kernel", c.cfg.KernelPath, "disk", c.cfg.DiskPath)

	driver, err := c.driverFactory()
	if err != nil {
		return c.failLocked(fmt.Errorf("create hypervisor driver: %w", err))
	}

	hvCfg := c.buildVMConfig()
	if err := driver.Validate(ctx, hvCfg); err != nil {
		return c.failLocked(fmt.Errorf("validate guest config: %w", err))
	}
	if err := driver.Create(ctx, hvCfg); err != nil {
		return c.failLocked(fmt.Errorf("create guest: %w", err))
	}

	doneCh, err := driver.Start(ctx)
	if err != nil {
		return c.failLocked(fmt.Errorf("boot guest: %w: %s", err, c.consoleTail()))
	}

	c.driver = driver
	c.exited = make(chan struct{})
	c.state = StateRunning
	c.lastErr = nil
	c.bootGen++

	go c.monitor(c.bootGen, doneCh, c.exited)

	if err := c.stateFile.RecordBoot(); err != nil {
		c.logger.Warn("failed to record boot", "error", err)
	}
	c.scheduleIdleLocked()

	c.logger.Info("guest running", "shares", c.folders.Len())
	return nil
}

// failLocked moves the controller into Error, retaining the reason.
// Error is terminal until an explicit Stop resets to Stopped.
func (c *Controller) failLocked(err error) error {
	c.state = StateError
	c.lastErr = err
	c.driver = nil
	c.logger.Error("guest entered error state", "error", err)
	return err
}

// monitor waits for the guest to exit on its own. Stale generations
// (after a host-initiated stop or restart) are ignored.
func (c *Controller) monitor(gen uint64, doneCh chan error, exited chan struct{}) {
	err := <-doneCh
	close(exited)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.bootGen {
		return
	}

	c.driver = nil
	c.cancelIdleLocked()
	if err != nil {
		c.state = StateError
		c.lastErr = fmt.Errorf("guest exited: %w: %s", err, c.consoleTail())
		c.logger.Error("guest exited unexpectedly", "error", err)
	} else {
		c.state = StateStopped
		c.logger.Info("guest powered off")
	}
	if recErr := c.stateFile.RecordShutdown(err == nil); recErr != nil {
		c.logger.Warn("failed to record shutdown", "error", recErr)
	}
}

// Stop shuts the guest down and releases its handle. A no-op when
// already stopped; from Error it resets the controller to Stopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked(ctx)
}

func (c *Controller) stopLocked(ctx context.Context) error {
	switch c.state {
	case StateStopped:
		return nil
	case StateError:
		c.state = StateStopped
		c.lastErr = nil
		c.driver = nil
		c.cancelIdleLocked()
		return nil
	case StateStarting:
		return fmt.Errorf("%w: stop while starting", ErrInvalidTransition)
	}

	c.bootGen++ // invalidate the monitor; this stop owns the transition
	c.cancelIdleLocked()

	driver := c.driver
	exited := c.exited

	if err := driver.Stop(ctx); err != nil {
		c.logger.Warn("graceful stop failed, killing guest", "error", err)
		if killErr := driver.Kill(ctx); killErr != nil {
			return c.failLocked(fmt.Errorf("stop guest: %w", killErr))
		}
	}

	select {
	case <-exited:
	case <-time.After(stopGraceTimeout):
		c.logger.Warn("guest did not exit in time, killing")
		_ = driver.Kill(ctx)
		select {
		case <-exited:
		case <-time.After(killWaitTimeout):
			c.logger.Error("guest did not exit after kill")
		}
	}

	c.driver = nil
	c.exited = nil
	c.state = StateStopped
	if err := c.stateFile.RecordShutdown(true); err != nil {
		c.logger.Warn("failed to record shutdown", "error", err)
	}
	c.logger.Info("guest stopped")
	return nil
}

// Pause freezes the guest. Valid only from Running; invalid-state calls
// are reported, not fatal.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked(ctx)
}

func (c *Controller) pauseLocked(ctx context.Context) error {
	if c.state != StateRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.state)
	}
	if err := c.driver.Pause(ctx); err != nil {
		return fmt.Errorf("pause guest: %w", err)
	}
	c.cancelIdleLocked()
	c.state = StatePaused
	c.logger.Debug("guest paused")
	return nil
}

// Resume continues a paused guest. Valid only from Paused.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeLocked(ctx)
}

func (c *Controller) resumeLocked(ctx context.Context) error {
	if c.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, c.state)
	}
	if err := c.driver.Resume(ctx); err != nil {
		return fmt.Errorf("resume guest: %w", err)
	}
	c.state = StateRunning
	c.scheduleIdleLocked()
	c.logger.Debug("guest resumed")
	return nil
}

// Execute runs a shell command inside the guest. With AutoStart, a
// stopped guest is booted first. Refreshes the idle-eviction deadline
// on success.
func (c *Controller) Execute(ctx context.Context, command string, timeout time.Duration) (CommandResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopped && c.cfg.AutoStart {
		if err := c.startLocked(ctx); err != nil {
			return CommandResult{}, fmt.Errorf("auto-start guest: %w", err)
		}
	}
	if c.state != StateRunning {
		return CommandResult{}, fmt.Errorf("%w (state %s)", ErrNotRunning, c.state)
	}
	if c.executor == nil {
		return CommandResult{}, fmt.Errorf("%w: no executor configured", ErrExecutionFailed)
	}

	result, err := c.executor.Run(ctx, command, timeout)
	if err == nil {
		c.scheduleIdleLocked()
	}
	return result, err
}

// HealthCheck probes guest responsiveness within a short fixed timeout.
// Always false when the guest is not running.
func (c *Controller) HealthCheck(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning || c.executor == nil {
		return false
	}
	result, err := c.executor.Run(ctx, "true", c.cfg.HealthTimeout)
	return err == nil && result.ExitCode == 0
}

// Wait blocks until the guest exits. Returns immediately when the guest
// is not running.
func (c *Controller) Wait() error {
	c.mu.Lock()
	exited := c.exited
	c.mu.Unlock()

	if exited == nil {
		return fmt.Errorf("%w: guest not started", ErrNotRunning)
	}
	<-exited
	return c.LastError()
}

// scheduleIdleLocked arms the keep-warm eviction timer. Each call bumps
// the generation so an already-fired timer cannot stop a guest that saw
// fresh activity.
func (c *Controller) scheduleIdleLocked() {
	if !c.cfg.KeepWarm {
		return
	}
	c.idleGen++
	gen := c.idleGen
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.cfg.WarmIdleTimeout, func() {
		c.idleEvict(gen)
	})
}

func (c *Controller) cancelIdleLocked() {
	c.idleGen++
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Controller) idleEvict(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.idleGen || c.state != StateRunning {
		return
	}
	c.logger.Info("stopping idle guest", "idle_timeout", c.cfg.WarmIdleTimeout)
	if err := c.stopLocked(context.Background()); err != nil {
		c.logger.Warn("idle eviction stop failed", "error", err)
	}
}

// buildVMConfig materializes the boot configuration, freezing the
// current shared-folder list into positional mount tags.
func (c *Controller) buildVMConfig() *hypervisor.VMConfig {
	entries := c.folders.Entries()
	shares := make([]hypervisor.SharedDir, len(entries))
	for i, entry := range entries {
		shares[i] = hypervisor.SharedDir{
			Tag:      Tag(i),
			HostPath: entry.HostPath,
			ReadOnly: entry.ReadOnly,
		}
	}

	return &hypervisor.VMConfig{
		CPUs:          c.cfg.CPUs,
		MemoryMB:      c.cfg.MemoryMB,
		Kernel:        c.cfg.KernelPath,
		Initrd:        c.cfg.InitrdPath,
		Cmdline:       c.cfg.Cmdline,
		DiskPath:      c.cfg.DiskPath,
		SharedDirs:    shares,
		EnableNetwork: c.cfg.NetworkMode != "" && c.cfg.NetworkMode != "none",
		NetworkMode:   "nat",
		MACAddress:    c.cfg.MACAddress,
		ConsoleLog:    c.consoleLogPath(),
	}
}

func (c *Controller) consoleLogPath() string {
	if c.cfg.DataDir == "" {
		return ""
	}
	return filepath.Join(c.cfg.DataDir, "console.log")
}

// consoleTail returns the last part of the guest console log, used to
// attach a human-readable reason to boot failures.
func (c *Controller) consoleTail() string {
	path := c.consoleLogPath()
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	const tailBytes = 2048
	if len(data) > tailBytes {
		data = data[len(data)-tailBytes:]
	}
	return strings.TrimSpace(string(data))
}

//go:build linux

package hypervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	hypeos "github.com/c35s/hype/os/linux"
	"github.com/c35s/hype/virtio"
	"github.com/c35s/hype/vmm"
)

// kvmDriver implements Driver using Linux KVM via hype.
type kvmDriver struct {
	mu         sync.Mutex
	cfg        *VMConfig
	vm         *vmm.VM
	state      driverState
	cancel     context.CancelFunc
	diskFile   *os.File
	consoleLog *os.File
}

type driverState int

const (
	stateNew driverState = iota
	stateCreated
	stateRunning
	stateStopped
)

// NewDriver creates a KVM-based driver for Linux.
func NewDriver() (Driver, error) {
	if _, err := os.Stat("/dev/kvm"); err != nil {
		return nil, fmt.Errorf("kvm: /dev/kvm not accessible: %w", err)
	}
	return &kvmDriver{state: stateNew}, nil
}

func (d *kvmDriver) Info() Info {
	return Info{Name: "kvm", Version: "1.0.0", Arch: runtime.GOARCH}
}

func (d *kvmDriver) Capabilities() Capabilities {
	return Capabilities{
		SharedDirs:  false, // hype lacks virtio-fs
		Networking:  false, // hype lacks virtio-net
		PauseResume: false,
	}
}

func (d *kvmDriver) Validate(ctx context.Context, cfg *VMConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Kernel); err != nil {
		return fmt.Errorf("kvm: kernel not found: %w", err)
	}
	if len(cfg.SharedDirs) > 0 {
		return fmt.Errorf("kvm: directory sharing: %w", ErrNotSupported)
	}
	return nil
}

func (d *kvmDriver) Create(ctx context.Context, cfg *VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateNew {
		return fmt.Errorf("kvm: invalid state for Create")
	}

	kernel, err := os.ReadFile(cfg.Kernel)
	if err != nil {
		return fmt.Errorf("kvm: read kernel: %w", err)
	}

	var initrd []byte
	if cfg.Initrd != "" {
		initrd, err = os.ReadFile(cfg.Initrd)
		if err != nil {
			return fmt.Errorf("kvm: read initrd: %w", err)
		}
	}

	var consoleOut io.Writer = io.Discard
	if cfg.ConsoleLog != "" {
		logFile, err := os.OpenFile(cfg.ConsoleLog, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("kvm: open console log: %w", err)
		}
		d.consoleLog = logFile
		consoleOut = logFile
	}

	hypeCfg := vmm.Config{
		MemSize: cfg.MemoryMB * 1024 * 1024,
		Devices: []virtio.DeviceConfig{
			&virtio.ConsoleDevice{
				Out: consoleOut,
			},
		},
		Loader: &hypeos.Loader{
			Kernel:  kernel,
			Initrd:  initrd,
			Cmdline: cfg.Cmdline,
		},
	}

	diskFile, err := os.OpenFile(cfg.DiskPath, os.O_RDWR, 0)
	if err != nil {
		d.closeFiles()
		return fmt.Errorf("kvm: open disk: %w", err)
	}
	hypeCfg.Devices = append(hypeCfg.Devices, &virtio.BlockDevice{
		Storage: &virtio.FileStorage{File: diskFile},
	})
	d.diskFile = diskFile

	vm, err := vmm.New(hypeCfg)
	if err != nil {
		d.closeFiles()
		return fmt.Errorf("kvm: create VM: %w", err)
	}

	d.cfg = cfg
	d.vm = vm
	d.state = stateCreated
	return nil
}

func (d *kvmDriver) Start(ctx context.Context) (chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateCreated && d.state != stateStopped {
		return nil, ErrNotCreated
	}

	errCh := make(chan error, 1)
	startedCh := make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go func() {
		// VCPU ioctls must stay on one OS thread.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		close(startedCh)

		err := d.vm.Run(runCtx)
		d.mu.Lock()
		d.state = stateStopped
		d.mu.Unlock()
		errCh <- err
	}()

	<-startedCh
	d.state = stateRunning

	return errCh, nil
}

func (d *kvmDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return ErrNotRunning
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.state = stateStopped
	return nil
}

func (d *kvmDriver) Kill(ctx context.Context) error {
	err := d.Stop(ctx)

	d.mu.Lock()
	d.closeFiles()
	d.mu.Unlock()

	return err
}

func (d *kvmDriver) Pause(ctx context.Context) error {
	return fmt.Errorf("kvm: pause: %w", ErrNotSupported)
}

func (d *kvmDriver) Resume(ctx context.Context) error {
	return fmt.Errorf("kvm: resume: %w", ErrNotSupported)
}

func (d *kvmDriver) closeFiles() {
	if d.diskFile != nil {
		d.diskFile.Close()
		d.diskFile = nil
	}
	if d.consoleLog != nil {
		d.consoleLog.Close()
		d.consoleLog = nil
	}
}

//go:build darwin

package hypervisor

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/Code-Hex/vz/v3"
)

// vzDriver implements Driver using macOS Virtualization.framework.
type vzDriver struct {
	mu    sync.Mutex
	cfg   *VMConfig
	vm    *vz.VirtualMachine
	state driverState
}

type driverState int

const (
	stateNew driverState = iota
	stateCreated
	stateRunning
	statePaused
	stateStopped
)

// NewDriver creates a vz-based driver for macOS.
func NewDriver() (Driver, error) {
	return &vzDriver{state: stateNew}, nil
}

func (d *vzDriver) Info() Info {
	return Info{Name: "vz", Version: "1.0.0", Arch: runtime.GOARCH}
}

func (d *vzDriver) Capabilities() Capabilities {
	return Capabilities{
		SharedDirs:  true,
		Networking:  true,
		PauseResume: true,
	}
}

func (d *vzDriver) Validate(ctx context.Context, cfg *VMConfig) error {
	return cfg.Validate()
}

func (d *vzDriver) Create(ctx context.Context, cfg *VMConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateNew {
		return fmt.Errorf("vz: invalid state for Create")
	}

	opts := []vz.LinuxBootLoaderOption{vz.WithCommandLine(cfg.Cmdline)}
	if cfg.Initrd != "" {
		opts = append(opts, vz.WithInitrd(cfg.Initrd))
	}
	bootLoader, err := vz.NewLinuxBootLoader(cfg.Kernel, opts...)
	if err != nil {
		return fmt.Errorf("vz: create boot loader: %w", err)
	}

	vmCfg, err := vz.NewVirtualMachineConfiguration(
		bootLoader,
		uint(cfg.CPUs),
		uint64(cfg.MemoryMB)*1024*1024,
	)
	if err != nil {
		return fmt.Errorf("vz: create VM config: %w", err)
	}

	platform, err := vz.NewGenericPlatformConfiguration()
	if err != nil {
		return fmt.Errorf("vz: create platform config: %w", err)
	}
	vmCfg.SetPlatformVirtualMachineConfiguration(platform)

	// One serial console, output captured to the console log for boot
	// diagnostics.
	consolePath := cfg.ConsoleLog
	if consolePath == "" {
		consolePath = "/dev/null"
	}
	serialAttach, err := vz.NewFileSerialPortAttachment(consolePath, false)
	if err != nil {
		return fmt.Errorf("vz: create console attachment: %w", err)
	}
	serialCfg, err := vz.NewVirtioConsoleDeviceSerialPortConfiguration(serialAttach)
	if err != nil {
		return fmt.Errorf("vz: create serial config: %w", err)
	}
	vmCfg.SetSerialPortsVirtualMachineConfiguration([]*vz.VirtioConsoleDeviceSerialPortConfiguration{
		serialCfg,
	})

	if cfg.EnableNetwork {
		natAttachment, err := vz.NewNATNetworkDeviceAttachment()
		if err != nil {
			return fmt.Errorf("vz: create NAT attachment: %w", err)
		}
		netConfig, err := vz.NewVirtioNetworkDeviceConfiguration(natAttachment)
		if err != nil {
			return fmt.Errorf("vz: create network config: %w", err)
		}

		var macAddr *vz.MACAddress
		if cfg.MACAddress != "" {
			hwAddr, err := net.ParseMAC(cfg.MACAddress)
			if err != nil {
				return fmt.Errorf("vz: parse MAC address: %w", err)
			}
			macAddr, err = vz.NewMACAddress(hwAddr)
			if err != nil {
				return fmt.Errorf("vz: create MAC address: %w", err)
			}
		} else {
			macAddr, err = vz.NewRandomLocallyAdministeredMACAddress()
			if err != nil {
				return fmt.Errorf("vz: generate random MAC: %w", err)
			}
		}
		netConfig.SetMACAddress(macAddr)
		vmCfg.SetNetworkDevicesVirtualMachineConfiguration([]*vz.VirtioNetworkDeviceConfiguration{netConfig})
	}

	diskAttachment, err := vz.NewDiskImageStorageDeviceAttachment(cfg.DiskPath, false)
	if err != nil {
		return fmt.Errorf("vz: create disk attachment: %w", err)
	}
	blockDevice, err := vz.NewVirtioBlockDeviceConfiguration(diskAttachment)
	if err != nil {
		return fmt.Errorf("vz: create block device: %w", err)
	}
	vmCfg.SetStorageDevicesVirtualMachineConfiguration([]vz.StorageDeviceConfiguration{blockDevice})

	// Directory shares, one virtio-fs device per entry in tag order.
	if len(cfg.SharedDirs) > 0 {
		fsDevices := make([]vz.DirectorySharingDeviceConfiguration, 0, len(cfg.SharedDirs))
		for _, share := range cfg.SharedDirs {
			sharedDir, err := vz.NewSharedDirectory(share.HostPath, share.ReadOnly)
			if err != nil {
				return fmt.Errorf("vz: create shared dir %s: %w", share.Tag, err)
			}
			dirShare, err := vz.NewSingleDirectoryShare(sharedDir)
			if err != nil {
				return fmt.Errorf("vz: create dir share %s: %w", share.Tag, err)
			}
			fsConfig, err := vz.NewVirtioFileSystemDeviceConfiguration(share.Tag)
			if err != nil {
				return fmt.Errorf("vz: create fs config %s: %w", share.Tag, err)
			}
			fsConfig.SetDirectoryShare(dirShare)
			fsDevices = append(fsDevices, fsConfig)
		}
		vmCfg.SetDirectorySharingDevicesVirtualMachineConfiguration(fsDevices)
	}

	ok, err := vmCfg.Validate()
	if !ok || err != nil {
		return fmt.Errorf("vz: invalid configuration: %w", err)
	}

	vm, err := vz.NewVirtualMachine(vmCfg)
	if err != nil {
		return fmt.Errorf("vz: create VM: %w", err)
	}

	d.cfg = cfg
	d.vm = vm
	d.state = stateCreated
	return nil
}

func (d *vzDriver) Start(ctx context.Context) (chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateCreated && d.state != stateStopped {
		return nil, ErrNotCreated
	}

	if err := d.vm.Start(); err != nil {
		return nil, fmt.Errorf("vz: start VM: %w", err)
	}
	d.state = stateRunning

	errCh := make(chan error, 1)
	go func() {
		for range d.vm.StateChangedNotify() {
			switch d.vm.State() {
			case vz.VirtualMachineStateStopped:
				d.mu.Lock()
				d.state = stateStopped
				d.mu.Unlock()
				errCh <- nil
				return
			case vz.VirtualMachineStateError:
				d.mu.Lock()
				d.state = stateStopped
				d.mu.Unlock()
				errCh <- fmt.Errorf("vz: VM entered error state")
				return
			}
		}
	}()

	return errCh, nil
}

func (d *vzDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning && d.state != statePaused {
		return ErrNotRunning
	}

	// A paused guest cannot process a shutdown request.
	if d.state == statePaused {
		if err := d.vm.Resume(); err != nil {
			return fmt.Errorf("vz: resume before stop: %w", err)
		}
		d.state = stateRunning
	}

	canStop, err := d.vm.CanRequestStop()
	if err != nil {
		return fmt.Errorf("vz: check can stop: %w", err)
	}
	if canStop {
		ok, err := d.vm.RequestStop()
		if err != nil || !ok {
			return fmt.Errorf("vz: request stop failed: %w", err)
		}
	} else if err := d.vm.Stop(); err != nil {
		return fmt.Errorf("vz: force stop: %w", err)
	}

	d.state = stateStopped
	return nil
}

func (d *vzDriver) Kill(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning && d.state != statePaused {
		return ErrNotRunning
	}
	if err := d.vm.Stop(); err != nil {
		return fmt.Errorf("vz: force stop: %w", err)
	}
	d.state = stateStopped
	return nil
}

func (d *vzDriver) Pause(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateRunning {
		return ErrNotRunning
	}
	if err := d.vm.Pause(); err != nil {
		return fmt.Errorf("vz: pause VM: %w", err)
	}
	d.state = statePaused
	return nil
}

func (d *vzDriver) Resume(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != statePaused {
		return ErrNotPaused
	}
	if err := d.vm.Resume(); err != nil {
		return fmt.Errorf("vz: resume VM: %w", err)
	}
	d.state = stateRunning
	return nil
}

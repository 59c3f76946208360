package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/javanstorm/agentvm/internal/config"
	"github.com/javanstorm/agentvm/internal/disksnap"
	"github.com/javanstorm/agentvm/internal/vm"
)

// app bundles the wired-up subsystems behind the CLI commands.
type app struct {
	paths   *config.Paths
	folders *vm.SharedFolders
	ctrl    *vm.Controller
	snaps   *vm.SnapshotManager
}

// buildApp wires the controller, transport, disk snapshot facility and
// snapshot manager from the loaded configuration.
func buildApp() (*app, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("determine paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	folders := vm.NewSharedFolders()
	entries, err := config.ParseSharedFolders(cfg.SharedFolders)
	if err != nil {
		return nil, fmt.Errorf("parse shared_folders: %w", err)
	}
	for _, entry := range entries {
		folders.Add(entry.HostPath, entry.ReadOnly)
	}

	executor, err := buildExecutor(paths)
	if err != nil {
		return nil, err
	}

	ctrl := vm.NewController(vm.ControllerConfig{
		CPUs:            cfg.CPUs,
		MemoryMB:        cfg.MemoryMB,
		KernelPath:      cfg.KernelPath,
		InitrdPath:      cfg.InitrdPath,
		DiskPath:        cfg.DiskPath,
		Cmdline:         cfg.Cmdline,
		NetworkMode:     cfg.NetworkMode,
		MACAddress:      cfg.MACAddress,
		AutoStart:       cfg.AutoStart,
		KeepWarm:        cfg.KeepWarm,
		WarmIdleTimeout: cfg.WarmIdleTimeout,
		DataDir:         paths.DataDir,
	}, folders, executor, logger)

	disk := disksnap.New(logger)
	store := vm.NewFileSnapshotStore(paths.DataDir)
	snaps, err := vm.NewSnapshotManager(ctrl, disk, store, cfg.MaxSnapshots, logger)
	if err != nil {
		return nil, err
	}

	return &app{paths: paths, folders: folders, ctrl: ctrl, snaps: snaps}, nil
}

// buildExecutor sets up the SSH command transport, generating the
// managed key pair on first use.
func buildExecutor(paths *config.Paths) (vm.Executor, error) {
	keyPath := cfg.SSHKeyPath
	if keyPath == "" {
		keys := vm.NewKeyManager(paths.DataDir)
		priv, _, err := keys.EnsureKeyPair()
		if err != nil {
			return nil, fmt.Errorf("ensure ssh key pair: %w", err)
		}
		keyPath = priv
	}

	signer, err := vm.LoadSigner(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load ssh key: %w", err)
	}

	transport := &vm.SSHTransport{
		Addr:   net.JoinHostPort(cfg.VMIP, strconv.Itoa(cfg.SSHPort)),
		User:   cfg.SSHUser,
		Signer: signer,
	}
	return vm.NewCommandExecutor(transport, logger), nil
}

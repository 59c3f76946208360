package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/config"
	"github.com/javanstorm/agentvm/internal/vm"
	"github.com/javanstorm/agentvm/pkg/hypervisor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show guest status and information",
	Long:  `Display information about the guest including hypervisor, disk, shared folders, boot history, and snapshots.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("determine paths: %w", err)
	}

	fmt.Printf("Guest: %s\n", cfg.VMName)
	if used := config.ConfigFileUsed(); used != "" {
		fmt.Printf("Config: %s\n", used)
	} else {
		fmt.Println("Config: defaults (no config file)")
	}
	fmt.Println()

	driver, err := hypervisor.NewDriver()
	if err != nil {
		fmt.Printf("Hypervisor: unavailable (%v)\n", err)
	} else {
		info := driver.Info()
		fmt.Printf("Hypervisor: %s v%s (%s)\n", info.Name, info.Version, info.Arch)
		caps := driver.Capabilities()
		fmt.Printf("  Shared folders: %v\n", caps.SharedDirs)
		fmt.Printf("  Networking:     %v\n", caps.Networking)
		fmt.Printf("  Pause/resume:   %v\n", caps.PauseResume)

		if issues := config.ValidateConfig(cfg, caps); len(issues) > 0 {
			fmt.Println()
			fmt.Print(config.FormatValidationErrors(issues))
		}
	}
	fmt.Println()

	fmt.Printf("Resources: %d CPUs, %d MB RAM\n", cfg.CPUs, cfg.MemoryMB)
	fmt.Printf("Kernel: %s\n", pathStatus(cfg.KernelPath))
	if cfg.InitrdPath != "" {
		fmt.Printf("Initrd: %s\n", pathStatus(cfg.InitrdPath))
	}
	fmt.Printf("Disk: %s\n", pathStatus(cfg.DiskPath))
	fmt.Println()

	entries, err := config.ParseSharedFolders(cfg.SharedFolders)
	if err != nil {
		fmt.Printf("Shared folders: invalid (%v)\n", err)
	} else if len(entries) == 0 {
		fmt.Println("Shared folders: none")
	} else {
		fmt.Println("Shared folders:")
		for i, entry := range entries {
			mode := "rw"
			if entry.ReadOnly {
				mode = "ro"
			}
			fmt.Printf("  %-8s %s (%s)\n", vm.Tag(i), entry.HostPath, mode)
		}
	}
	fmt.Println()

	stateFile := vm.NewStateFile(paths.DataDir)
	state, err := stateFile.Load()
	if err != nil {
		fmt.Printf("State: error loading (%v)\n", err)
	} else if state.BootCount == 0 {
		fmt.Println("State: never booted")
	} else {
		fmt.Println("State:")
		fmt.Printf("  Boot count: %d\n", state.BootCount)
		if !state.LastBoot.IsZero() {
			fmt.Printf("  Last boot: %s\n", state.LastBoot.Format("2006-01-02 15:04:05"))
		}
		if !state.LastShutdown.IsZero() {
			fmt.Printf("  Last shutdown: %s\n", state.LastShutdown.Format("2006-01-02 15:04:05"))
			if state.CleanShutdown {
				fmt.Println("  Shutdown type: clean")
			} else {
				fmt.Println("  Shutdown type: unclean")
			}
		}
	}
	fmt.Println()

	store := vm.NewFileSnapshotStore(paths.DataDir)
	history, err := store.Load()
	if err != nil {
		fmt.Printf("Snapshots: error loading (%v)\n", err)
	} else {
		fmt.Printf("Snapshots: %d of %d\n", len(history), cfg.MaxSnapshots)
	}

	return nil
}

func pathStatus(path string) string {
	if path == "" {
		return "not configured"
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("%s (missing)", path)
	}
	return fmt.Sprintf("%s (%.2f MB)", path, float64(info.Size())/(1024*1024))
}

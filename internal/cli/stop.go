package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/config"
	"github.com/javanstorm/agentvm/internal/vm"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Power off a guest started by another process",
	Long: `Ask the guest to power off over its command transport. This reaches a
guest booted by a separate 'agentvm run' process; that process observes
the shutdown and exits.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("determine paths: %w", err)
	}

	executor, err := buildExecutor(paths)
	if err != nil {
		return err
	}

	fmt.Println("Requesting guest poweroff...")
	_, err = executor.Run(cmd.Context(), "poweroff", 10*time.Second)
	if err != nil {
		// The connection dropping mid-poweroff is the expected outcome.
		if errors.Is(err, vm.ErrExecutionFailed) || errors.Is(err, vm.ErrCommandTimeout) {
			fmt.Println("Guest is powering off.")
			return nil
		}
		return fmt.Errorf("request poweroff: %w", err)
	}
	fmt.Println("Guest is powering off.")
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/vm"
)

var (
	execTimeout     time.Duration
	execKeepRunning bool
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command> [args...]",
	Short: "Run a shell command inside the guest",
	Long: `Run a shell command inside the guest and print its output. The process
exit code mirrors the guest command's exit code.

With auto_start enabled, a stopped guest is booted first. Unless
keep_warm or --keep-running is set, the guest is stopped afterwards.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 60*time.Second, "kill the command after this long")
	execCmd.Flags().BoolVar(&execKeepRunning, "keep-running", false, "leave the guest running afterwards")
}

func runExec(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	command := strings.Join(args, " ")
	ctx := cmd.Context()

	result, err := application.ctrl.Execute(ctx, command, execTimeout)
	fmt.Print(result.Output)

	if !execKeepRunning && !cfg.KeepWarm {
		if stopErr := application.ctrl.Stop(context.Background()); stopErr != nil {
			logger.Warn("failed to stop guest after exec", "error", stopErr)
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, vm.ErrCommandTimeout):
		return fmt.Errorf("command timed out after %s", execTimeout)
	default:
		return err
	}

	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}

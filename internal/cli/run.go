package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/timing"
)

var runShowTiming bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the guest and keep it running",
	Long: `Boot the guest and block until it powers off or the process receives
an interrupt. Shared folders from the configuration are exported with
positional virtiofs tags (share0, share1, ...).`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runShowTiming, "timing", false, "print a boot timing report")
}

func runRun(cmd *cobra.Command, args []string) error {
	var timer *timing.Timer
	if runShowTiming {
		timer = timing.New()
	}

	application, err := buildApp()
	if err != nil {
		return err
	}
	if timer != nil {
		timer.Mark("wire")
	}

	ctx := cmd.Context()
	if err := application.ctrl.Start(ctx); err != nil {
		return err
	}
	if timer != nil {
		timer.Mark("boot")
		timer.Report(os.Stderr)
	}
	fmt.Println("Guest running. Press Ctrl+C to stop.")

	// Stop the guest on SIGINT/SIGTERM; a second signal aborts the
	// graceful shutdown path.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	waitCh := make(chan error, 1)
	go func() { waitCh <- application.ctrl.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			return fmt.Errorf("guest exited: %w", err)
		}
		fmt.Println("Guest powered off.")
		return nil
	case <-sigCh:
		fmt.Println("\nStopping guest...")
		if err := application.ctrl.Stop(context.Background()); err != nil {
			return fmt.Errorf("stop guest: %w", err)
		}
		fmt.Println("Guest stopped.")
		return nil
	}
}

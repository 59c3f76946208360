package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/vm"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture and restore guest disk state",
	Long: `Create, list, restore, and delete guest disk snapshots. History is
kept newest-first and bounded; creating a snapshot beyond the limit
evicts the oldest one.`,
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a snapshot",
	Long:  `Capture the guest's current disk state. A running guest is paused briefly during the capture and resumed afterwards.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSnapshotCreate,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	RunE:  runSnapshotList,
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Show snapshot details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotShow,
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <id|name>",
	Short: "Restore a snapshot",
	Long:  `Roll the guest disk back to a snapshot and boot from it. A running guest is stopped first.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotRestore,
}

var snapshotRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the most recent snapshot",
	RunE:  runSnapshotRollback,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id|name>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotDelete,
}

var snapshotRenameCmd = &cobra.Command{
	Use:   "rename <id|name> <new-name>",
	Short: "Rename a snapshot",
	Args:  cobra.ExactArgs(2),
	RunE:  runSnapshotRename,
}

var snapshotClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all snapshots",
	RunE:  runSnapshotClear,
}

func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotCmd.AddCommand(snapshotRollbackCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
	snapshotCmd.AddCommand(snapshotRenameCmd)
	snapshotCmd.AddCommand(snapshotClearCmd)
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	snap, err := application.snaps.CreateSnapshot(cmd.Context(), name)
	if errors.Is(err, vm.ErrDiskSnapshotFailed) {
		fmt.Printf("Warning: disk state could not be captured: %v\n", err)
		fmt.Printf("Snapshot recorded as metadata-only: %s (%s)\n", snap.Name, snap.ID)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot created: %s (%s)\n", snap.Name, snap.ID)
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	history := application.snaps.List()
	if len(history) == 0 {
		fmt.Println("No snapshots. Create one with: agentvm snapshot create")
		return nil
	}

	fmt.Println("Snapshots (newest first):")
	for _, snap := range history {
		marker := ""
		if !snap.HasDiskSnapshot() {
			marker = " [metadata-only]"
		}
		fmt.Printf("  %s  %s%s\n", snap.ID[:8], snap.Name, marker)
		fmt.Printf("    Created: %s (guest %s)\n", snap.CreatedAt.Format("2006-01-02 15:04:05"), snap.CapturedState)
		if snap.LastRestoredAt != nil {
			fmt.Printf("    Last restored: %s\n", snap.LastRestoredAt.Format("2006-01-02 15:04:05"))
		}
	}
	return nil
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	snap, err := application.snaps.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Snapshot: %s\n", snap.Name)
	fmt.Printf("  ID: %s\n", snap.ID)
	fmt.Printf("  Created: %s\n", snap.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Guest state at capture: %s\n", snap.CapturedState)
	fmt.Printf("  Disk: %s\n", snap.DiskPath)
	if snap.HasDiskSnapshot() {
		fmt.Printf("  Disk snapshot: %s\n", snap.DiskSnapshotID)
	} else {
		fmt.Println("  Disk snapshot: none (metadata-only, cannot be restored)")
	}
	if snap.LastRestoredAt != nil {
		fmt.Printf("  Last restored: %s\n", snap.LastRestoredAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSnapshotRestore(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	fmt.Printf("Restoring snapshot '%s'...\n", args[0])
	if err := application.snaps.RestoreSnapshot(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("Snapshot restored; guest is running.")
	return nil
}

func runSnapshotRollback(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	if err := application.snaps.QuickRollback(cmd.Context()); err != nil {
		if errors.Is(err, vm.ErrNoSnapshots) {
			return fmt.Errorf("no snapshots to roll back to")
		}
		return err
	}
	fmt.Println("Rolled back to the most recent snapshot; guest is running.")
	return nil
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	if err := application.snaps.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Println("Snapshot deleted.")
	// Short-lived process: let background disk cleanup finish.
	application.snaps.WaitCleanup()
	return nil
}

func runSnapshotRename(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	if err := application.snaps.RenameSnapshot(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Snapshot renamed to '%s'.\n", args[1])
	return nil
}

func runSnapshotClear(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	count := len(application.snaps.List())
	if err := application.snaps.ClearAllSnapshots(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Deleted %d snapshot(s).\n", count)
	return nil
}

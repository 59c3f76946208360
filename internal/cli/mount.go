package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/vm"
)

var (
	mountScript  bool
	mountBaseDir string
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Print guest-side mount commands for shared folders",
	Long: `Print the mount commands the guest runs to attach the configured
shared folders. Each folder's virtiofs tag is its position in the
configured list (share0, share1, ...), so the output must be applied
in order against an unchanged configuration.`,
	RunE: runMount,
}

func init() {
	mountCmd.Flags().BoolVar(&mountScript, "script", false, "emit a full shell script instead of bare commands")
	mountCmd.Flags().StringVar(&mountBaseDir, "base-dir", "/mnt/shared", "guest directory to mount folders under")
}

func runMount(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}

	if application.folders.Len() == 0 {
		fmt.Println("# no shared folders configured")
		return nil
	}

	if mountScript {
		fmt.Print(application.folders.MountScript(mountBaseDir))
		return nil
	}
	for i, entry := range application.folders.Entries() {
		fmt.Printf("# %s\n", entry.HostPath)
		fmt.Println(vm.MountCommand(i, fmt.Sprintf("%s/%s", mountBaseDir, vm.Tag(i))))
	}
	return nil
}

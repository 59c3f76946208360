package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javanstorm/agentvm/internal/config"
	"github.com/javanstorm/agentvm/internal/vm"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the guest SSH key pair",
	Long: `Generate the ed25519 key pair used to run commands inside the guest.
The public key must be present in the guest's authorized_keys. Existing
keys are left untouched.`,
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	paths, err := config.GetPaths()
	if err != nil {
		return fmt.Errorf("determine paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	keys := vm.NewKeyManager(paths.DataDir)
	existed := keys.KeyPairExists()

	privPath, pubPath, err := keys.EnsureKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}

	if existed {
		fmt.Println("Key pair already exists:")
	} else {
		fmt.Println("Generated new ed25519 key pair:")
	}
	fmt.Printf("  Private key: %s\n", privPath)
	fmt.Printf("  Public key:  %s\n", pubPath)

	content, err := keys.PublicKeyContent()
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println("Add this line to the guest's /root/.ssh/authorized_keys:")
	fmt.Printf("  %s", content)
	return nil
}

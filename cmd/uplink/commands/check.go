package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"uplink/pkg/buffer"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configured provider without transferring anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		if UP == nil {
			return fmt.Errorf("app not initialized")
		}

		fmt.Printf("🔌 Registered providers: %s\n", strings.Join(UP.Registry.IDs(), ", "))
		fmt.Printf("🔧 Selected provider:    %s\n", UP.Settings.ProviderID())

		eng, err := UP.NewEngine(buffer.NewTextBuffer(""))
		if err != nil {
			return err
		}
		defer eng.Close()

		res := eng.CheckProvider(cmd.Context())
		if !res.Success {
			fmt.Printf("❌ Config invalid: %s\n", res.Error)
			return fmt.Errorf("provider configuration check failed")
		}
		fmt.Println("✅ Provider configuration looks good.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

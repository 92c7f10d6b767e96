package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"uplink/pkg/buffer"
	"uplink/pkg/types"
)

var removeCmd = &cobra.Command{
	Use:   "remove [url-or-key...]",
	Short: "Delete objects from the configured provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if UP == nil {
			return fmt.Errorf("app not initialized")
		}

		eng, err := UP.NewEngine(buffer.NewTextBuffer(""))
		if err != nil {
			return err
		}
		defer eng.Close()

		var items []types.WorkItem
		targets := map[types.ItemID]string{}
		for i, t := range args {
			id := types.ItemID(fmt.Sprintf("rm-%d", i))
			targets[id] = t
			items = append(items, types.WorkItem{
				ID:         id,
				Kind:       types.KindDelete,
				RemoteLink: t,
			})
		}

		okCount := 0
		for s := range eng.Submit(cmd.Context(), items) {
			if s.Status == types.StatusSucceeded {
				okCount++
				fmt.Printf("🗑 %s deleted\n", s.Remote.Key)
			} else {
				fmt.Printf("❌ %s: %s\n", targets[s.ID], s.Error)
			}
		}
		fmt.Printf("📦 Deleted %d/%d object(s)\n", okCount, len(items))
		if okCount < len(items) {
			return fmt.Errorf("%d deletes failed", len(items)-okCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

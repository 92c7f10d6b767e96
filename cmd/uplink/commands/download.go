package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"uplink/pkg/buffer"
	"uplink/pkg/types"
)

var downloadCmd = &cobra.Command{
	Use:   "download [url...]",
	Short: "Download remote files into the vault's attachment directory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if UP == nil {
			return fmt.Errorf("app not initialized")
		}
		if UP.Vault == nil {
			return fmt.Errorf("download needs a vault (--vault or vault.root in config)")
		}

		eng, err := UP.NewEngine(buffer.NewTextBuffer(""))
		if err != nil {
			return err
		}
		defer eng.Close()

		var items []types.WorkItem
		urls := map[types.ItemID]string{}
		for i, u := range args {
			id := types.ItemID(fmt.Sprintf("dl-%d", i))
			urls[id] = u
			items = append(items, types.WorkItem{
				ID:        id,
				Kind:      types.KindDownload,
				RemoteURL: u,
			})
		}

		okCount := 0
		for s := range eng.Submit(cmd.Context(), items) {
			if s.Status == types.StatusSucceeded {
				okCount++
				fmt.Printf("✅ %s (%d bytes)\n", s.Remote.Key, s.Bytes)
			} else {
				fmt.Printf("❌ %s: %s\n", urls[s.ID], s.Error)
			}
		}
		fmt.Printf("📦 Downloaded %d/%d file(s)\n", okCount, len(items))
		if okCount < len(items) {
			return fmt.Errorf("%d downloads failed", len(items)-okCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

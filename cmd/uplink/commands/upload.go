package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"uplink/pkg/buffer"
	"uplink/pkg/types"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [file...]",
	Short: "Upload files to the configured provider and print markdown links",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if UP == nil {
			return fmt.Errorf("app not initialized")
		}

		// CLI 没有活的编辑器缓冲区，用一块临时缓冲接占位符/结算结果
		buf := buffer.NewTextBuffer("")
		eng, err := UP.NewEngine(buf)
		if err != nil {
			return err
		}
		defer eng.Close()

		// 1. 把每个文件变成一个工作项
		var items []types.WorkItem
		names := map[types.ItemID]string{}
		for i, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			name := filepath.Base(path)
			id := types.ItemID(fmt.Sprintf("cli-%d", i))
			names[id] = name
			items = append(items, types.WorkItem{
				ID:        id,
				Kind:      types.KindFile,
				Name:      name,
				Data:      data,
				Extension: strings.TrimPrefix(filepath.Ext(path), "."),
			})
		}

		// 2. 整批提交，逐项打印结算和可直接粘贴的 markdown
		start := time.Now()
		okCount := 0
		for s := range eng.Submit(cmd.Context(), items) {
			name := names[s.ID]
			switch s.Status {
			case types.StatusSucceeded:
				okCount++
				md := "[" + name + "](" + s.Remote.URL + ")"
				if types.IsImageExtension(filepath.Ext(name)) {
					md = "!" + md
				}
				if s.DedupHit {
					fmt.Printf("✅ %s (already uploaded)\n   %s\n", name, md)
				} else {
					fmt.Printf("✅ %s (%d bytes)\n   %s\n", name, s.Bytes, md)
				}
			case types.StatusAborted:
				fmt.Printf("⏹ %s aborted\n", name)
			default:
				fmt.Printf("❌ %s failed: %s\n", name, s.Error)
			}
		}

		fmt.Printf("📦 Uploaded %d/%d files in %s\n", okCount, len(items), time.Since(start).Round(time.Millisecond))
		if okCount < len(items) {
			return fmt.Errorf("%d uploads failed", len(items)-okCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

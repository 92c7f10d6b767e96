package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"uplink/pkg/types"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent transfer history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if UP == nil {
			return fmt.Errorf("app not initialized")
		}
		if UP.History == nil {
			return fmt.Errorf("history database unavailable")
		}

		entries, err := UP.History.Recent(cmd.Context(), logLimit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No transfers yet.")
			return nil
		}

		// 颜色代码 (ANSI Escape Codes) - 可选，为了好看
		const (
			colorYellow = "\033[33m"
			colorReset  = "\033[0m"
		)

		for _, e := range entries {
			glyph := "✅"
			switch types.Status(e.Status) {
			case types.StatusFailed:
				glyph = "❌"
			case types.StatusAborted:
				glyph = "⏹"
			}
			fmt.Printf("%s %s%-8s%s %s", glyph, colorYellow, e.Kind, colorReset,
				e.CreatedAt.Format(time.RFC1123))
			if e.Key != "" {
				fmt.Printf("  %s", e.Key)
			}
			if e.Bytes > 0 {
				fmt.Printf("  (%d bytes, %dms)", e.Bytes, e.DurationMs)
			}
			if e.Error != "" {
				fmt.Printf("  -- %s", e.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 20, "Maximum entries to show")
	rootCmd.AddCommand(logCmd)
}

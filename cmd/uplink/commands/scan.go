package commands

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"uplink/pkg/buffer"
	"uplink/pkg/scan"
	"uplink/pkg/types"
)

var (
	scanDryRun bool
	scanDomain string
)

// scanCmd 把一篇 markdown 文档里的本地附件链接批量搬上远端
//
// 流程：找出扩展名命中的本地链接 -> 每个链接原位换成占位符 ->
// 上传结算后占位符变成远端链接 -> 整篇写回磁盘。
var scanCmd = &cobra.Command{
	Use:   "scan [document.md]",
	Short: "Upload local attachments referenced by a document and rewrite the links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if UP == nil {
			return fmt.Errorf("app not initialized")
		}
		if UP.Vault == nil {
			return fmt.Errorf("scan needs a vault (--vault or vault.root in config)")
		}
		docPath := args[0]

		raw, err := os.ReadFile(docPath)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		text := string(raw)

		// 1. 找候选：非 http(s)、扩展名在自动上传名单里的链接
		exts := UP.Settings.AutoUploadExtensions()
		candidates := scan.OutboundCandidates(text, exts)
		if len(candidates) == 0 {
			fmt.Println("⚠️  No local attachment links found.")
			return nil
		}
		fmt.Printf("🔍 Found %d local attachment link(s)\n", len(candidates))

		if scanDryRun {
			for _, c := range candidates {
				fmt.Printf("   would upload: %s\n", c.Target)
			}
			return nil
		}

		buf := buffer.NewTextBuffer(text)
		eng, err := UP.NewEngine(buf)
		if err != nil {
			return err
		}
		defer eng.Close()

		// 2. 从后往前把链接换成占位符，前面候选的偏移量不受影响
		var items []types.WorkItem
		for i := len(candidates) - 1; i >= 0; i-- {
			c := candidates[i]
			data, err := UP.Vault.Read(c.Target)
			if err != nil {
				fmt.Printf("❌ skip %s: %v\n", c.Target, err)
				continue
			}
			buf.ReplaceSpan(c.Start, c.End, "")
			buf.SetCursor(c.Start)

			id := types.ItemID(fmt.Sprintf("scan-%d", i))
			it := types.WorkItem{
				ID:        id,
				Kind:      types.KindFile,
				Name:      path.Base(c.Target),
				Data:      data,
				Extension: strings.TrimPrefix(path.Ext(c.Target), "."),
				LocalPath: c.Target,
			}
			// 一项一批：占位符要插在刚腾出来的位置上
			for s := range eng.Submit(cmd.Context(), []types.WorkItem{it}) {
				items = append(items, it)
				if s.Status == types.StatusSucceeded {
					fmt.Printf("✅ %s -> %s\n", c.Target, s.Remote.URL)
				} else {
					fmt.Printf("❌ %s: %s\n", c.Target, s.Error)
				}
			}
		}

		// 3. 写回文档
		if err := os.WriteFile(docPath, []byte(buf.GetText()), 0644); err != nil {
			return fmt.Errorf("failed to write document back: %w", err)
		}
		fmt.Printf("📦 Rewrote %s (%d link(s) processed)\n", docPath, len(items))
		return nil
	},
}

// scanInboundCmd 列出文档里指向自家远端的链接 (download/remove 的输入)
var scanInboundCmd = &cobra.Command{
	Use:   "inbound [document.md]",
	Short: "List document links pointing at the configured public domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		links := scan.InboundCandidates(string(raw), scanDomain)
		if len(links) == 0 {
			fmt.Println("⚠️  No matching remote links found.")
			return nil
		}
		for _, l := range links {
			fmt.Println(l.Target)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "List candidates without uploading")
	scanInboundCmd.Flags().StringVar(&scanDomain, "domain", "", "Public domain to match (empty matches any remote link)")
	scanCmd.AddCommand(scanInboundCmd)
	rootCmd.AddCommand(scanCmd)
}

package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/arre-reader/arre/internal/tts"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the audio cache",
	Args:  cobra.NoArgs,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show audio cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *tts.Service, s settings) error {
			st := svc.CacheStats(ctx)
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Directory:  %s\n", s.CacheDir)
			fmt.Fprintf(w, "Stored:     %s\n", humanize.Comma(int64(st.Stored)))
			fmt.Fprintf(w, "Memory:     %s of %s (%d items)\n",
				humanize.IBytes(uint64(st.Memory.Size)), humanize.IBytes(uint64(st.Memory.Capacity)), st.Memory.ItemCount)
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached audio artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd, func(ctx context.Context, svc *tts.Service, _ settings) error {
			if err := svc.ClearCache(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cleared the audio cache")
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}

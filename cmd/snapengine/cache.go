package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagAggressive bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the screenshot cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count, size and age range",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.cache.Stats()
		if err != nil {
			return err
		}

		fmt.Printf("Directory:  %s\n", stats.Directory)
		fmt.Printf("Entries:    %d\n", stats.Count)
		fmt.Printf("Total size: %.2f MB\n", float64(stats.TotalSizeBytes)/(1024*1024))
		if !stats.Oldest.IsZero() {
			fmt.Printf("Oldest:     %s\n", stats.Oldest.Format(time.RFC3339))
			fmt.Printf("Newest:     %s\n", stats.Newest.Format(time.RFC3339))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached artifact and empty the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.cache.Clear(); err != nil {
			return err
		}
		fmt.Println("Cache cleared")
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict expired cache entries",
	Long: `Evict cache entries past their useful life. The default sweep is lenient
and only removes entries older than twice the TTL; --aggressive evicts
everything past the TTL itself.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.cache.EvictExpired(flagAggressive)
		if err != nil {
			return err
		}
		fmt.Printf("Evicted %d entries\n", n)
		return nil
	},
}

func init() {
	cacheCleanupCmd.Flags().BoolVar(&flagAggressive, "aggressive", false, "evict entries older than the TTL instead of 2x the TTL")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheCleanupCmd)
}

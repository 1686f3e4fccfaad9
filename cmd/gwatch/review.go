package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/gwatchdev/gwatch/internal/config"
	"github.com/gwatchdev/gwatch/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and manage persisted review markers",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List paths marked as reviewed",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		paths := store.ReviewedPaths()
		if len(paths) == 0 {
			fmt.Println("No reviewed files.")
			return nil
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	},
}

var reviewClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all review markers",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n := store.ReviewedCount()
		store.ClearAll()
		if err := store.Flush(); err != nil {
			return err
		}
		fmt.Printf("Cleared %d review marker(s).\n", n)
		return nil
	},
}

func openStore() (*review.Store, error) {
	cfg, _, err := config.Load(flagConfigDir, log.Default())
	if err != nil {
		return nil, err
	}
	return review.Open(cfg.ReviewDBPath(), log.Default())
}

func init() {
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewClearCmd)
	rootCmd.AddCommand(reviewCmd)
}

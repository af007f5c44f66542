package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	createDimension int
	deleteConfirm   bool
)

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"col"},
	Short:   "Manage vector collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cols, err := app.Collections.List(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, cols)
		}
		if len(cols) == 0 {
			cmd.Println("No collections.")
			return nil
		}
		for _, c := range cols {
			cmd.Printf("%-24s dim=%-5d points=%-8d %s\n", c.Name, c.Dimension, c.PointsCount, c.Status)
		}
		return nil
	},
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := app.Collections.Create(cmd.Context(), args[0], createDimension)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, info)
		}
		cmd.Printf("Created %s (dim=%d, %s)\n", info.Name, info.Dimension, info.Distance)
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a collection and every chunk in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !deleteConfirm {
			return errors.New("refusing to delete without --yes")
		}
		if err := app.Collections.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted collection %s\n", args[0])
		return nil
	},
}

var collectionsStatsCmd = &cobra.Command{
	Use:   "stats [name]",
	Short: "Show collection statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := app.Collections.Stats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, stats)
		}
		cmd.Printf("Name:       %s\n", stats.Name)
		cmd.Printf("Dimension:  %d\n", stats.Dimension)
		cmd.Printf("Distance:   %s\n", stats.Distance)
		cmd.Printf("Points:     %d\n", stats.PointsCount)
		cmd.Printf("Documents:  %d\n", stats.DocumentsCount)
		cmd.Printf("Status:     %s\n", stats.Status)
		return nil
	},
}

func init() {
	collectionsCreateCmd.Flags().IntVar(&createDimension, "dim", 0, "vector dimension (default: embedding model dimension)")
	collectionsDeleteCmd.Flags().BoolVarP(&deleteConfirm, "yes", "y", false, "confirm deletion")
	collectionsCmd.AddCommand(collectionsListCmd, collectionsCreateCmd, collectionsDeleteCmd, collectionsStatsCmd)
	rootCmd.AddCommand(collectionsCmd)
}

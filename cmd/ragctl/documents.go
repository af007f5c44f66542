package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rag-sync-go/internal/model"
	"rag-sync-go/internal/service"
)

var (
	indexCollection string
	indexRecursive  bool
	indexExtensions []string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a file or every supported file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [path]",
	Short: "Remove every chunk of a file from a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.Documents.Delete(cmd.Context(), args[0], indexCollection); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{indexCmd, deleteCmd} {
		c.Flags().StringVar(&indexCollection, "collection", "", "target collection (default from config)")
		rootCmd.AddCommand(c)
	}
	indexCmd.Flags().BoolVarP(&indexRecursive, "recursive", "r", true, "descend into sub-directories")
	indexCmd.Flags().StringSliceVar(&indexExtensions, "ext", nil, "only index these extensions, e.g. --ext .md,.pdf")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := args[0]
	isDir, err := isDirectory(path)
	if err != nil {
		return err
	}

	if !isDir {
		res, err := app.Documents.Index(cmd.Context(), path, indexCollection)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd, res)
		}
		cmd.Printf("Indexed %s into %s (%d chunks)\n", res.Path, res.Collection, res.ChunksIndexed)
		return nil
	}

	recursive := indexRecursive
	res, err := app.Documents.IndexDirectory(cmd.Context(), service.IndexDirectoryRequest{
		Path:       path,
		Collection: indexCollection,
		Recursive:  &recursive,
		Extensions: indexExtensions,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, res)
	}
	cmd.Printf("Found %d files, indexed %d (%d chunks)\n", res.FilesFound, res.FilesIndexed, res.ChunksIndexed)
	for _, f := range res.Failed {
		cmd.Printf("  failed: %s [%s] %s\n", f.Path, f.Kind, f.Error)
	}
	return nil
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w: %s", model.ErrNotFound, path)
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

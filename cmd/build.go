package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mistricky/pagepocket-sub000/internal/content"
	"github.com/mistricky/pagepocket-sub000/internal/snapshot"
	"github.com/mistricky/pagepocket-sub000/internal/store"
)

var (
	buildOut       string
	buildThreshold int64
)

var buildCmd = &cobra.Command{
	Use:   "build <archive-id-or-path>",
	Short: "Build an offline snapshot from a capture archive",
	Long: `Build the replayable snapshot file tree from a saved capture archive
and write it to a directory.

The archive can be referenced by id, id prefix, "latest", or an explicit
file path.

Examples:
  pagepocket build latest --out ./snapshot
  pagepocket build 20240115 --out ./snapshot
  pagepocket build ./archive.json --out ./snapshot`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := args[0]
		if ref == "latest" || ref == "last" {
			ids, err := store.ListArchives()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				pterm.Info.Println("No archives saved yet, run 'pagepocket capture' first")
				return nil
			}
			ref = ids[0]
		}

		archive, err := store.LoadArchive(ref)
		if err != nil {
			return err
		}

		spill, err := os.MkdirTemp("", "pagepocket-build-")
		if err != nil {
			return fmt.Errorf("failed to create spill directory: %w", err)
		}
		cs := content.New(content.NewDirBacking(filepath.Join(spill, "bodies")), buildThreshold)
		defer cs.Dispose()
		defer os.RemoveAll(spill)

		resources, err := archive.Restore(cs)
		if err != nil {
			return err
		}

		result, err := snapshot.Build(archive.EntryURL, resources, archive.ReplayRecords(), cs, snapshot.Options{})
		if err != nil {
			return err
		}

		for _, file := range result.Files {
			if err := writeSnapshotFile(cs, file, buildOut); err != nil {
				return err
			}
		}

		warnings := append(append([]string{}, archive.Warnings...), result.Warnings...)
		if getOutputMode() == "json" {
			payload := map[string]interface{}{
				"out":        buildOut,
				"entry_path": result.EntryPath,
				"title":      result.Title,
				"files":      len(result.Files),
				"warnings":   warnings,
			}
			out, _ := sonic.MarshalIndent(payload, "", "  ")
			fmt.Println(string(out))
			return nil
		}

		pterm.Success.Printf("Wrote %d files to %s (entry %s)\n", len(result.Files), buildOut, result.EntryPath)
		for _, w := range warnings {
			pterm.Warning.Println(w)
		}
		return nil
	},
}

// writeSnapshotFile streams one built file into the output directory.
func writeSnapshotFile(cs *content.Store, file snapshot.File, outDir string) error {
	target := filepath.Join(outDir, filepath.FromSlash(file.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	rc, err := cs.Open(file.Ref)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file.Path, err)
	}
	defer rc.Close()
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}

func init() {
	buildCmd.Flags().StringVar(&buildOut, "out", "./snapshot", "Output directory for the snapshot tree")
	buildCmd.Flags().Int64Var(&buildThreshold, "inline-threshold", 0, "Inline/spillover boundary in bytes (0 = default)")
	rootCmd.AddCommand(buildCmd)
}

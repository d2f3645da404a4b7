package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mistricky/pagepocket-sub000/internal/capture"
	"github.com/mistricky/pagepocket-sub000/internal/config"
	"github.com/mistricky/pagepocket-sub000/internal/content"
	"github.com/mistricky/pagepocket-sub000/internal/event"
	"github.com/mistricky/pagepocket-sub000/internal/store"
)

var (
	captureFixture string
	captureFollow  bool
	captureConfig  string
	captureNote    string
	captureNoNoise bool
)

var captureCmd = &cobra.Command{
	Use:   "capture <url>",
	Short: "Run a capture session and save it as an archive",
	Long: `Capture the network traffic of a page load and save it as a
self-contained archive for later snapshot builds.

Traffic is read from a recorded protocol fixture (NDJSON, one debugger
notification per line). With --follow the fixture is tailed as an external
recorder appends to it, until the capture completes.

Completion races a quiet-period strategy (no in-flight requests for the
configured idle time) against a hard timeout; whichever resolves first
wins.

Examples:
  pagepocket capture https://example.com --fixture trace.ndjson
  pagepocket capture https://example.com --fixture live.ndjson --follow
  pagepocket capture https://example.com --fixture trace.ndjson --note "checkout flow"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entryURL := args[0]
		if captureFixture == "" {
			return fmt.Errorf("a capture source is required (--fixture)")
		}

		opts, err := config.Load(captureConfig)
		if err != nil {
			return err
		}
		if captureNoNoise {
			opts.SkipNoise = true
		}

		spill, err := os.MkdirTemp("", "pagepocket-capture-")
		if err != nil {
			return fmt.Errorf("failed to create spill directory: %w", err)
		}
		cs := content.New(content.NewDirBacking(filepath.Join(spill, "bodies")), opts.InlineThreshold)
		defer cs.Dispose()
		defer os.RemoveAll(spill)

		ns := store.New(cs, store.DefaultFilter{SkipNoise: opts.SkipNoise}, store.Limits{
			MaxResourceBytes: opts.MaxResourceBytes,
			MaxTotalBytes:    opts.MaxTotalBytes,
			MaxResources:     opts.MaxResources,
		})

		ctx := cmd.Context()
		counter := capture.NewInflightCounter()
		adapter := &capture.FixtureAdapter{Path: captureFixture, Follow: captureFollow}
		session, err := adapter.Start(ctx, entryURL, capture.Handlers{
			OnEvent: func(ev event.NetworkEvent) {
				counter.Track(ev)
				ns.HandleEvent(ctx, ev)
			},
			OnError: func(err error) {
				pterm.Warning.Printf("capture: %v\n", err)
			},
		})
		if err != nil {
			return err
		}

		completion := capture.Completion{
			Counter:     counter,
			QuietPeriod: opts.QuietPeriod,
			Timeout:     opts.Timeout,
		}
		reason := completion.Wait(ctx)

		// Completion stops intake only. Body fetches already issued still
		// settle and emit their buffered responses, bodiless on failure,
		// before the archive is written.
		session.StopIntake()
		drain := opts.Timeout
		if drain <= 0 {
			drain = 30 * time.Second
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := session.Wait(waitCtx); err != nil {
			pterm.Warning.Printf("body fetches still pending at shutdown: %v\n", err)
		}
		session.Stop()

		id := store.GenerateArchiveID(captureNote)
		archive, err := store.BuildArchive(id, entryURL, captureNote, ns, cs)
		if err != nil {
			return fmt.Errorf("failed to build archive: %w", err)
		}
		path, err := archive.Save()
		if err != nil {
			return err
		}

		if getOutputMode() == "json" {
			payload := map[string]interface{}{
				"archive_id": id,
				"path":       path,
				"completed":  string(reason),
				"resources":  len(archive.Resources),
				"api_calls":  len(archive.ApiRecords),
				"warnings":   archive.Warnings,
			}
			out, _ := sonic.MarshalIndent(payload, "", "  ")
			fmt.Println(string(out))
			return nil
		}

		pterm.Success.Printf("Captured %d resources, %d API calls (%s)\n",
			len(archive.Resources), len(archive.ApiRecords), reason)
		for _, w := range archive.Warnings {
			pterm.Warning.Println(w)
		}
		pterm.Info.Printf("Saved archive %s\n", id)
		pterm.Info.Printf("Build it with: pagepocket build %s --out ./snapshot\n", id)
		return nil
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureFixture, "fixture", "", "Recorded protocol fixture to capture from (NDJSON)")
	captureCmd.Flags().BoolVar(&captureFollow, "follow", false, "Tail the fixture as it is appended to")
	captureCmd.Flags().StringVar(&captureConfig, "config", "", "Capture options file (YAML)")
	captureCmd.Flags().StringVar(&captureNote, "note", "", "Note recorded in the archive id")
	captureCmd.Flags().BoolVar(&captureNoNoise, "skip-noise", false, "Skip known analytics/tracking domains")
	rootCmd.AddCommand(captureCmd)
}

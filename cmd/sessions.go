package cmd

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mistricky/pagepocket-sub000/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved capture archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := store.ListArchives()
		if err != nil {
			return err
		}

		if getOutputMode() == "json" {
			payload := map[string]interface{}{"archives": ids}
			out, _ := sonic.MarshalIndent(payload, "", "  ")
			fmt.Println(string(out))
			return nil
		}

		if len(ids) == 0 {
			pterm.Info.Println("No archives saved yet, run 'pagepocket capture' first")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

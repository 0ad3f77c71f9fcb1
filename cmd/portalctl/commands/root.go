package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"portalsync/internal/components/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configName string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "portalctl keeps a local copy of your CampusNet timetable and grades.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configName, "config", "config.json5", "The configuration file to read.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print debug logs.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(message string, err error) {
	slog.Error(message, "err", err)
	os.Exit(1)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

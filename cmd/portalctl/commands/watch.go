package commands

import (
	"fmt"
	"log/slog"
	"time"

	"portalsync/internal/scheduler"

	"github.com/spf13/cobra"
)

const prefsPollInterval = 30 * time.Second

var watchOnce bool

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "Run a single check and exit.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically check the timetable for changes and send notifications.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		pipeline := app.Pipeline(ctx)
		sched := scheduler.New(pipeline.CheckAndNotify, app.Tel, app.Config.Scheduler)

		if watchOnce {
			outcome, _ := sched.RunNow(ctx)
			fmt.Println(outcome.String())
			return
		}

		unbind := sched.Bind(ctx, app.Prefs.Enabled())
		defer unbind()
		// `portalctl prefs set` runs in another process
		app.Prefs.Watch(ctx, prefsPollInterval)
		slog.Info("watching for timetable changes", "interval", sched.Interval(), "running", sched.Started())

		<-ctx.Done()
		sched.Stop()
	},
}

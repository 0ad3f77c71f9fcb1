package commands

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state and notification preferences.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		sessions := app.Auth.Session()
		username := "-"
		if credentials, ok := sessions.Credentials(); ok {
			username = credentials.Username
		}
		name := "-"
		if data, ok := sessions.AuthData(); ok && data.UserFullName != "" {
			name = data.UserFullName
		}

		t := newTable()
		t.AppendRows([]table.Row{
			{"State", sessions.State().String()},
			{"Username", username},
			{"Name", name},
			{"Demo mode", onOff(sessions.IsDemoMode())},
			{"Notifications", onOff(app.Prefs.Notifications.Get())},
			{"Lecture alerts", onOff(app.Prefs.LectureAlerts.Get())},
		})
		t.Render()
	},
}

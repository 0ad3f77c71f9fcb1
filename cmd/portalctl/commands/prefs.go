package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	prefsCmd.AddCommand(prefsSetCmd)
	rootCmd.AddCommand(prefsCmd)
}

func parseSwitch(value string) (bool, error) {
	switch value {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", value)
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show the notification preferences.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		fmt.Printf("notifications:  %s\n", onOff(app.Prefs.Notifications.Get()))
		fmt.Printf("lecture-alerts: %s\n", onOff(app.Prefs.LectureAlerts.Get()))
	},
}

var prefsSetCmd = &cobra.Command{
	Use:       "set <notifications|lecture-alerts> <on|off>",
	Short:     "Change a notification preference.",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"notifications", "lecture-alerts"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseSwitch(args[1])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		switch args[0] {
		case "notifications":
			err = app.Prefs.SetNotificationsEnabled(ctx, enabled)
		case "lecture-alerts":
			err = app.Prefs.SetLectureAlertsEnabled(ctx, enabled)
		default:
			return fmt.Errorf("unknown preference %q", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], onOff(enabled))
		return nil
	},
}

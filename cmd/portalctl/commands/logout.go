package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(logoutCmd)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the portal session and forget the credentials and cached data.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		err := app.Auth.Logout(ctx)
		if err != nil {
			fatal("failed to logout", err)
		}
		fmt.Println("logged out")
	},
}

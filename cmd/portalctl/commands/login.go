package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"portalsync/internal/auth"

	"github.com/spf13/cobra"
)

// PasswordEnv is read when --password is not given.
const PasswordEnv = "PORTALSYNC_PASSWORD"

var (
	loginUsername string
	loginPassword string
)

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "The portal username.")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "The portal password, defaults to $"+PasswordEnv+".")
	rootCmd.AddCommand(loginCmd)
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign into the portal and remember the credentials.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		var err error
		username := loginUsername
		if username == "" {
			username, err = prompt("username: ")
			if err != nil {
				fatal("failed to read username", err)
			}
		}
		password := loginPassword
		if password == "" {
			password = os.Getenv(PasswordEnv)
		}
		if password == "" {
			password, err = prompt("password: ")
			if err != nil {
				fatal("failed to read password", err)
			}
		}

		data, err := app.Auth.Login(ctx, username, password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			fmt.Fprintln(os.Stderr, "the portal rejected the username or password")
			os.Exit(1)
		}
		if err != nil {
			fatal("failed to login", err)
		}

		name := data.UserFullName
		if name == "" {
			name = username
		}
		fmt.Printf("logged in as %s\n", name)
	},
}

package cli

import (
	"github.com/spf13/cobra"

	"chat-client/internal/api"
)

func newLoginCmd(app *App) *cobra.Command {
	var opts struct {
		Username string
		Password string
	}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := app.credentials(opts.Username, opts.Password)
			if err != nil {
				return err
			}
			result, err := app.apiClient(noSession).Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			if err := app.Sessions.Save(result.Session(creds.Username)); err != nil {
				return err
			}
			app.printf(okColor, "logged in as %s (user %d)\n", creds.Username, result.UserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "Password (prompted when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newRegisterCmd(app *App) *cobra.Command {
	var opts struct {
		Username string
		Password string
	}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := app.credentials(opts.Username, opts.Password)
			if err != nil {
				return err
			}
			user, err := app.apiClient(noSession).Register(cmd.Context(), creds)
			if err != nil {
				return err
			}
			app.printf(okColor, "registered %s (user %d), now run login\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&opts.Password, "password", "p", "", "Password (prompted when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Sessions.Clear(); err != nil {
				return err
			}
			app.printf(okColor, "logged out\n")
			return nil
		},
	}
}

func (a *App) credentials(username, password string) (api.Credentials, error) {
	if password == "" {
		var err error
		if password, err = a.Prompt("Password:"); err != nil {
			return api.Credentials{}, err
		}
	}
	return api.Credentials{Username: username, Password: password}, nil
}

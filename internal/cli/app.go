// Package cli is the chat-client command line: one-shot commands for
// accounts and chats, and attach for a live session.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chat-client/internal/api"
	"chat-client/internal/config"
	"chat-client/internal/observability"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

var (
	titleColor = color.New(color.FgMagenta, color.Bold)
	okColor    = color.New(color.FgGreen)
	hintColor  = color.New(color.FgHiBlack)
)

// App carries what every command needs.
type App struct {
	Config   config.Config
	Sessions *session.Store
	Audit    *telemetry.AuditEmitter
	Events   *observability.Events
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	// Prompt asks for a secret value.
	Prompt func(message string) (string, error)
}

// SurveyPrompt reads a password without echo.
func SurveyPrompt(message string) (string, error) {
	var value string
	err := survey.AskOne(&survey.Password{Message: message}, &value, survey.WithValidator(survey.Required))
	return value, err
}

func (a *App) apiClient(sess session.Session) *api.Client {
	return api.New(a.Config.APIURL,
		api.WithHTTPClient(&http.Client{Timeout: a.Config.HTTPTimeout}),
		api.WithDeviceID(a.Config.DeviceID),
		api.WithSession(sess),
	)
}

// authed returns a client for the stored session.
func (a *App) authed() (*api.Client, session.Session, error) {
	sess, err := a.Sessions.Load()
	if err != nil {
		return nil, session.Session{}, err
	}
	return a.apiClient(sess), sess, nil
}

func (a *App) printf(c *color.Color, format string, args ...any) {
	c.Fprintf(a.Out, format, args...)
}

// NewRootCmd builds the command tree.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "chat-client",
		Short:         "Terminal client for the chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(app.Out)
	root.SetIn(app.In)

	root.AddCommand(
		newLoginCmd(app),
		newRegisterCmd(app),
		newLogoutCmd(app),
		newUsersCmd(app),
		newChatsCmd(app),
		newNewChatCmd(app),
		newNewGroupCmd(app),
		newDeleteChatCmd(app),
		newParticipantsCmd(app),
		newMessagesCmd(app),
		newSendCmd(app),
		newAttachCmd(app),
	)
	return root
}

func intArg(raw, name string) (int, error) {
	id, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

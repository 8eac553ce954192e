package cli

import (
	"bufio"
	"context"
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"chat-client/internal/client"
	"chat-client/internal/compose"
	"chat-client/internal/directory"
	"chat-client/internal/models"
	"chat-client/internal/view"
)

// Live is the part of a running session the interactive commands drive.
type Live interface {
	Refresh(ctx context.Context) error
	Select(ctx context.Context, chatID int) error
	DeleteChat(ctx context.Context, chatID int) error
	CreatePrivateChat(ctx context.Context, recipientID int, name string) (models.Chat, error)
	CreateGroup(ctx context.Context, name string, memberIDs []int) (models.Chat, error)
	Participants(ctx context.Context) ([]models.User, error)
	Send(ctx context.Context, text string) error
	Edit(ctx context.Context, messageID int, text string) error
	DeleteMessage(ctx context.Context, messageID int) error
	OpenMenu(ctx context.Context, messageID int) error
	CloseMenu(ctx context.Context) error
}

// Printer is where the interactive session writes local feedback.
type Printer interface {
	Println(a ...any)
	Alert(msg string)
}

func newAttachCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "attach [chat-id]",
		Short: "Open a live session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID := 0
			if len(args) == 1 {
				id, err := intArg(args[0], "chat-id")
				if err != nil {
					return err
				}
				chatID = id
			}
			return app.attach(cmd.Context(), chatID)
		},
	}
}

func (a *App) attach(ctx context.Context, chatID int) error {
	rest, sess, err := a.authed()
	if err != nil {
		return err
	}

	term := view.NewTerminal(a.Out, sess.UserID)
	live := client.New(client.Options{
		API:            rest,
		WSURL:          a.Config.WSURL,
		DeviceID:       a.Config.DeviceID,
		ReconnectDelay: a.Config.ReconnectDelay,
		View:           term,
		Events:         a.Events,
		Audit:          a.Audit,
		Logger:         a.Logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-live.Done()
	}()
	go func() {
		if err := live.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error("session loop stopped", "error", err)
		}
	}()

	titleColor.Fprintf(a.Out, "attached as %s, /help for commands\n", sess.Username)
	report(term, live.Refresh(ctx))
	if chatID > 0 {
		report(term, live.Select(ctx, chatID))
	}

	scanner := bufio.NewScanner(a.In)
	for scanner.Scan() {
		cmd, err := Parse(scanner.Text())
		if err != nil {
			term.Alert(err.Error())
			continue
		}
		quit, err := execute(ctx, live, term, cmd)
		report(term, err)
		if quit {
			return nil
		}
	}
	return scanner.Err()
}

// execute runs one parsed command and reports whether the session should end.
func execute(ctx context.Context, live Live, out Printer, cmd Command) (bool, error) {
	switch cmd.Name {
	case "send":
		return false, live.Send(ctx, cmd.Text)
	case "switch":
		return false, live.Select(ctx, cmd.ID)
	case "chats":
		return false, live.Refresh(ctx)
	case "menu":
		if err := live.OpenMenu(ctx, cmd.ID); err != nil {
			return false, err
		}
		out.Println("selected #" + strconv.Itoa(cmd.ID) + ": /edit <text> or /delete")
		return false, nil
	case "close":
		return false, live.CloseMenu(ctx)
	case "edit":
		return false, live.Edit(ctx, cmd.ID, cmd.Text)
	case "delete":
		return false, live.DeleteMessage(ctx, cmd.ID)
	case "delete-chat":
		return false, live.DeleteChat(ctx, cmd.ID)
	case "new-chat":
		_, err := live.CreatePrivateChat(ctx, cmd.ID, cmd.Text)
		return false, err
	case "new-group":
		_, err := live.CreateGroup(ctx, cmd.Text, cmd.IDs)
		return false, err
	case "who":
		_, err := live.Participants(ctx)
		return false, err
	case "help":
		out.Println(helpText)
		return false, nil
	case "quit":
		return true, nil
	}
	return false, ErrUnknownCommand
}

// report prints errors the components did not already alert.
func report(out Printer, err error) {
	switch {
	case err == nil:
	case errors.Is(err, directory.ErrUnknownChat),
		errors.Is(err, directory.ErrNoActiveChat),
		errors.Is(err, compose.ErrNoTarget),
		errors.Is(err, compose.ErrUnknownMessage),
		errors.Is(err, compose.ErrNotOwnMessage),
		errors.Is(err, ErrUnknownCommand):
		out.Alert(err.Error())
	}
}

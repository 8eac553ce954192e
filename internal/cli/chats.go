package cli

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"chat-client/internal/api"
	"chat-client/internal/directory"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
	"chat-client/internal/view"
)

var noSession session.Session

func newUsersCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			users, err := client.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range users {
				suffix := ""
				if u.ID == sess.UserID {
					suffix = " (you)"
				}
				fmt.Fprintf(app.Out, "%4d  %s%s\n", u.ID, u.Username, suffix)
			}
			return nil
		},
	}
}

func newChatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List your chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			chats, err := client.ListChats(cmd.Context(), sess.UserID)
			if err != nil {
				return err
			}
			view.NewTerminal(app.Out, sess.UserID).RenderChats(chats, 0)
			return nil
		},
	}
}

func newNewChatCmd(app *App) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "new-chat <user-id>",
		Short: "Start a one-to-one chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient, err := intArg(args[0], "user-id")
			if err != nil {
				return err
			}
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			chat, err := client.CreateChat(cmd.Context(), api.CreateChatRequest{
				UserID:      sess.UserID,
				RecipientID: recipient,
				Name:        name,
			})
			if err != nil {
				return err
			}
			app.Audit.Emit(cmd.Context(), sess.UserID, "INFO", telemetry.AuditPayload{
				Action: telemetry.ActionChatCreated,
				Text:   chat.Name,
				ChatID: chat.ID,
			})
			app.printf(okColor, "created chat %d %q\n", chat.ID, chat.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Chat name")
	return cmd
}

func newNewGroupCmd(app *App) *cobra.Command {
	var members []int

	cmd := &cobra.Command{
		Use:   "new-group <name>",
		Short: "Create a group and add members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("%w: group name is empty", ErrUsage)
			}
			if len(members) == 0 {
				return fmt.Errorf("%w: pass at least one --member", ErrUsage)
			}
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			group, err := client.CreateGroup(cmd.Context(), api.CreateGroupRequest{
				Name:       name,
				Background: directory.GroupBackground,
			})
			if err != nil {
				return err
			}
			for _, id := range lo.Uniq(append(members, sess.UserID)) {
				if err := client.AddUserToGroup(cmd.Context(), group.ID, id); err != nil {
					app.Logger.Warn("add group member failed", "group_id", group.ID, "user_id", id, "error", err)
				}
			}
			app.Audit.Emit(cmd.Context(), sess.UserID, "INFO", telemetry.AuditPayload{
				Action: telemetry.ActionGroupCreated,
				Text:   group.Name,
				ChatID: group.ID,
			})
			app.printf(okColor, "created group %d %q\n", group.ID, group.Name)
			return nil
		},
	}

	cmd.Flags().IntSliceVarP(&members, "member", "m", nil, "User id to add (repeatable)")
	return cmd
}

func newDeleteChatCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-chat <chat-id>",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := intArg(args[0], "chat-id")
			if err != nil {
				return err
			}
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			if err := client.DeleteChat(cmd.Context(), chatID); err != nil {
				return err
			}
			app.Audit.Emit(cmd.Context(), sess.UserID, "INFO", telemetry.AuditPayload{
				Action: telemetry.ActionChatDeleted,
				ChatID: chatID,
			})
			app.printf(okColor, "deleted chat %d\n", chatID)
			return nil
		},
	}
}

func newParticipantsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "participants <chat-id>",
		Short: "List members of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := intArg(args[0], "chat-id")
			if err != nil {
				return err
			}
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			users, err := client.ListGroupUsers(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			view.NewTerminal(app.Out, sess.UserID).RenderParticipants(users, sess.UserID)
			return nil
		},
	}
}

func newMessagesCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages <chat-id>",
		Short: "Print the history of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := intArg(args[0], "chat-id")
			if err != nil {
				return err
			}
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			messages, err := client.ListMessages(cmd.Context(), chatID)
			if err != nil {
				return err
			}
			if limit > 0 && len(messages) > limit {
				messages = messages[len(messages)-limit:]
			}
			term := view.NewTerminal(app.Out, sess.UserID)
			for _, m := range messages {
				term.Append(m)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Show only the newest N messages")
	return cmd
}

func newSendCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <text...>",
		Short: "Post one message without attaching",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := intArg(args[0], "chat-id")
			if err != nil {
				return err
			}
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return nil
			}
			client, sess, err := app.authed()
			if err != nil {
				return err
			}
			msg, err := client.PostMessage(cmd.Context(), api.PostMessageRequest{
				Content:  text,
				AuthorID: sess.UserID,
				GroupID:  chatID,
			})
			if err != nil {
				return err
			}
			app.Audit.Emit(cmd.Context(), sess.UserID, "INFO", telemetry.AuditPayload{
				Action:    telemetry.ActionMessageSent,
				ChatID:    chatID,
				MessageID: msg.ID,
			})
			app.printf(hintColor, "sent #%d\n", msg.ID)
			return nil
		},
	}
}

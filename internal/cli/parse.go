package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Command is one parsed line of the interactive session.
type Command struct {
	Name string
	ID   int
	IDs  []int
	Text string
}

const helpText = `plain text             send a message to the active chat
/switch <chat-id>      make a chat active
/chats                 refresh the chat list
/menu <message-id>     select one of your messages
/close                 clear the selected message
/edit [<id>] <text>    edit a message (default: selected)
/delete [<id>]         delete a message (default: selected)
/delete-chat <id>      delete a chat
/new-chat <user-id> [name]
/new-group <name> <user-id,user-id,...>
/who                   list participants of the active chat
/help                  show this help
/quit                  leave`

// Parse reads one input line. Lines that do not start with "/" are messages.
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return Command{Name: "send", Text: line}, nil
	}

	fields := strings.Fields(line)
	name := strings.TrimPrefix(fields[0], "/")
	args := fields[1:]
	cmd := Command{Name: name}

	switch name {
	case "chats", "close", "who", "help", "quit":
		if len(args) != 0 {
			return Command{}, usage(name, "")
		}
	case "switch", "menu", "delete-chat":
		if len(args) != 1 {
			return Command{}, usage(name, "<id>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return Command{}, err
		}
		cmd.ID = id
	case "delete":
		if len(args) > 1 {
			return Command{}, usage(name, "[<id>]")
		}
		if len(args) == 1 {
			id, err := parseID(args[0])
			if err != nil {
				return Command{}, err
			}
			cmd.ID = id
		}
	case "edit":
		if len(args) == 0 {
			return Command{}, usage(name, "[<id>] <text>")
		}
		if id, err := strconv.Atoi(args[0]); err == nil && len(args) > 1 {
			cmd.ID = id
			args = args[1:]
		}
		cmd.Text = strings.Join(args, " ")
	case "new-chat":
		if len(args) == 0 {
			return Command{}, usage(name, "<user-id> [name]")
		}
		id, err := parseID(args[0])
		if err != nil {
			return Command{}, err
		}
		cmd.ID = id
		cmd.Text = strings.Join(args[1:], " ")
	case "new-group":
		if len(args) != 2 {
			return Command{}, usage(name, "<name> <user-id,user-id,...>")
		}
		ids, err := parseIDs(args[1])
		if err != nil {
			return Command{}, err
		}
		cmd.Text = args[0]
		cmd.IDs = ids
	default:
		return Command{}, fmt.Errorf("%w: /%s (try /help)", ErrUnknownCommand, name)
	}
	return cmd, nil
}

func usage(name, args string) error {
	return fmt.Errorf("%w: /%s %s", ErrUsage, name, args)
}

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q is not an id", ErrUsage, raw)
	}
	return id, nil
}

func parseIDs(raw string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(raw, ",") {
		if part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

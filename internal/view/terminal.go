package view

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"chat-client/internal/models"
)

const editedMarker = "(edited)"

var (
	mineStyle    = color.New(color.FgGreen)
	theirsStyle  = color.New(color.FgCyan)
	updateStyle  = color.New(color.FgYellow)
	removedStyle = color.New(color.Faint)
	titleStyle   = color.New(color.Bold)
	alertStyle   = color.New(color.FgRed, color.Bold)
)

// Terminal draws the chat to a line-oriented console.
type Terminal struct {
	mu     sync.Mutex
	out    io.Writer
	selfID int
}

func NewTerminal(out io.Writer, selfID int) *Terminal {
	return &Terminal{out: out, selfID: selfID}
}

func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out)
}

func (t *Terminal) Append(m models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	style := theirsStyle
	if m.AuthorID == t.selfID {
		style = mineStyle
	}
	style.Fprintf(t.out, "%s #%d %s:", clock(m), m.ID, t.author(m))
	fmt.Fprintf(t.out, " %s%s\n", m.Content, edited(m))
}

func (t *Terminal) Update(m models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	updateStyle.Fprintf(t.out, "%s #%d %s ~", clock(m), m.ID, t.author(m))
	fmt.Fprintf(t.out, " %s%s\n", m.Content, edited(m))
}

func (t *Terminal) Remove(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	removedStyle.Fprintf(t.out, "#%d deleted\n", id)
}

// ScrollToNewest is implicit: console output always ends at the newest line.
func (t *Terminal) ScrollToNewest() {}

func (t *Terminal) RenderChats(chats []models.Chat, activeID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(chats) == 0 {
		fmt.Fprintln(t.out, "no chats yet: /new-chat or /new-group")
		return
	}

	table := tablewriter.NewWriter(t.out)
	table.SetHeader([]string{"", "ID", "Name", "Type"})
	table.SetBorder(false)
	for _, c := range chats {
		marker := ""
		if c.ID == activeID {
			marker = "*"
		}
		table.Append([]string{marker, strconv.Itoa(c.ID), c.Name, string(c.Kind)})
	}
	table.Render()
}

func (t *Terminal) SetTitle(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	titleStyle.Fprintf(t.out, "== %s ==\n", title)
}

func (t *Terminal) RenderParticipants(users []models.User, selfID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	titleStyle.Fprintln(t.out, "participants:")
	for _, u := range users {
		suffix := ""
		if u.ID == selfID {
			suffix = " (you)"
		}
		fmt.Fprintf(t.out, "  %s%s\n", u.Username, suffix)
	}
}

func (t *Terminal) Alert(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	alertStyle.Fprintf(t.out, "! %s\n", msg)
}

// Println writes a plain line, for prompts and help text.
func (t *Terminal) Println(a ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, a...)
}

func (t *Terminal) author(m models.Message) string {
	switch {
	case m.AuthorID == t.selfID:
		return "you"
	case m.Author != nil && m.Author.Username != "":
		return m.Author.Username
	default:
		return "user " + strconv.Itoa(m.AuthorID)
	}
}

func clock(m models.Message) string {
	if m.Timestamp.IsZero() {
		return "--:--:--"
	}
	return m.Timestamp.Local().Format("15:04:05")
}

func edited(m models.Message) string {
	if m.Edited {
		return " " + editedMarker
	}
	return ""
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/api"
	"chat-client/internal/backendtest"
	"chat-client/internal/compose"
	"chat-client/internal/config"
	"chat-client/internal/directory"
	"chat-client/internal/models"
	"chat-client/internal/session"
)

type fixture struct {
	backend *backendtest.Server
	app     *App
	out     *bytes.Buffer
	prompts []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := backendtest.Start()
	t.Cleanup(backend.Close)

	f := &fixture{backend: backend, out: &bytes.Buffer{}}
	f.app = &App{
		Config: config.Config{
			APIURL:         backend.URL,
			WSURL:          backend.WSURL,
			HTTPTimeout:    5 * time.Second,
			ReconnectDelay: 100 * time.Millisecond,
		},
		Sessions: session.NewStore(filepath.Join(t.TempDir(), "session.json")),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		In:       strings.NewReader(""),
		Out:      f.out,
		Prompt: func(message string) (string, error) {
			f.prompts = append(f.prompts, message)
			return "ann-pw", nil
		},
	}
	return f
}

func (f *fixture) run(args ...string) error {
	root := NewRootCmd(f.app)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func (f *fixture) loginAs(t *testing.T, username string) models.User {
	t.Helper()
	user, sess := f.backend.SeedUser(username)
	require.NoError(t, f.app.Sessions.Save(sess))
	return user
}

func TestLoginPromptsForPasswordAndStoresSession(t *testing.T) {
	f := newFixture(t)
	ann, _ := f.backend.SeedUser("ann")

	require.NoError(t, f.run("login", "-u", "ann"))

	assert.Equal(t, []string{"Password:"}, f.prompts)
	sess, err := f.app.Sessions.Load()
	require.NoError(t, err)
	assert.Equal(t, ann.ID, sess.UserID)
	assert.Equal(t, "ann", sess.Username)
	assert.Contains(t, f.out.String(), "logged in as ann")
}

func TestLoginWithBadPasswordKeepsNoSession(t *testing.T) {
	f := newFixture(t)
	f.backend.SeedUser("ann")

	err := f.run("login", "-u", "ann", "-p", "wrong")

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	_, err = f.app.Sessions.Load()
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestRegisterThenLogout(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.run("register", "-u", "cleo", "-p", "secret"))
	assert.Contains(t, f.out.String(), "registered cleo")

	f.loginAs(t, "dan")
	require.NoError(t, f.run("logout"))
	_, err := f.app.Sessions.Load()
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestCommandsRequireSession(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.run("chats"), session.ErrNoSession)
	assert.Zero(t, f.backend.TotalRequests())
}

func TestChatsListsMemberChats(t *testing.T) {
	f := newFixture(t)
	ann := f.loginAs(t, "ann")
	bob, _ := f.backend.SeedUser("bob")
	f.backend.SeedChat("weekend", ann.ID, bob.ID)
	f.backend.SeedChat("bob only", bob.ID)

	require.NoError(t, f.run("chats"))

	out := f.out.String()
	assert.Contains(t, out, "weekend")
	assert.NotContains(t, out, "bob only")
}

func TestSendPostsMessage(t *testing.T) {
	f := newFixture(t)
	ann := f.loginAs(t, "ann")
	chat := f.backend.SeedChat("weekend", ann.ID)

	require.NoError(t, f.run("send", strconv.Itoa(chat.ID), "hello", "there"))

	messages := f.backend.Store.Messages(chat.ID)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello there", messages[0].Content)
	assert.Equal(t, ann.ID, messages[0].AuthorID)
}

func TestNewGroupAddsMembersAndSelf(t *testing.T) {
	f := newFixture(t)
	ann := f.loginAs(t, "ann")
	bob, _ := f.backend.SeedUser("bob")

	require.NoError(t, f.run("new-group", "crew", "-m", strconv.Itoa(bob.ID)))

	chats, err := f.backend.Store.ChatsFor(ann.ID)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "crew", chats[0].Name)
	assert.True(t, f.backend.Store.IsMember(chats[0].ID, bob.ID))
}

func TestNewGroupRequiresMembers(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, "ann")

	assert.ErrorIs(t, f.run("new-group", "crew"), ErrUsage)
	assert.Zero(t, f.backend.TotalRequests())
}

type fakeLive struct {
	calls []string
	err   error
}

func (l *fakeLive) record(call string) error {
	l.calls = append(l.calls, call)
	return l.err
}

func (l *fakeLive) Refresh(context.Context) error { return l.record("refresh") }
func (l *fakeLive) Select(_ context.Context, id int) error {
	return l.record("select:" + strconv.Itoa(id))
}
func (l *fakeLive) DeleteChat(_ context.Context, id int) error {
	return l.record("delete-chat:" + strconv.Itoa(id))
}
func (l *fakeLive) CreatePrivateChat(_ context.Context, id int, name string) (models.Chat, error) {
	return models.Chat{}, l.record("new-chat:" + strconv.Itoa(id) + ":" + name)
}
func (l *fakeLive) CreateGroup(_ context.Context, name string, ids []int) (models.Chat, error) {
	return models.Chat{}, l.record("new-group:" + name + ":" + strconv.Itoa(len(ids)))
}
func (l *fakeLive) Participants(context.Context) ([]models.User, error) {
	return nil, l.record("who")
}
func (l *fakeLive) Send(_ context.Context, text string) error { return l.record("send:" + text) }
func (l *fakeLive) Edit(_ context.Context, id int, text string) error {
	return l.record("edit:" + strconv.Itoa(id) + ":" + text)
}
func (l *fakeLive) DeleteMessage(_ context.Context, id int) error {
	return l.record("delete:" + strconv.Itoa(id))
}
func (l *fakeLive) OpenMenu(_ context.Context, id int) error {
	return l.record("menu:" + strconv.Itoa(id))
}
func (l *fakeLive) CloseMenu(context.Context) error { return l.record("close") }

type printed struct {
	lines  []string
	alerts []string
}

func (p *printed) Println(a ...any) {
	for _, v := range a {
		p.lines = append(p.lines, v.(string))
	}
}

func (p *printed) Alert(msg string) { p.alerts = append(p.alerts, msg) }

func TestExecuteDispatches(t *testing.T) {
	lines := []string{
		"hi all",
		"/switch 4",
		"/chats",
		"/menu 9",
		"/edit fixed",
		"/delete",
		"/close",
		"/delete-chat 4",
		"/new-chat 2 lunch",
		"/new-group crew 2,3",
		"/who",
	}
	live := &fakeLive{}
	out := &printed{}

	for _, line := range lines {
		cmd, err := Parse(line)
		require.NoError(t, err, line)
		quit, err := execute(context.Background(), live, out, cmd)
		require.NoError(t, err, line)
		assert.False(t, quit, line)
	}

	assert.Equal(t, []string{
		"send:hi all",
		"select:4",
		"refresh",
		"menu:9",
		"edit:0:fixed",
		"delete:0",
		"close",
		"delete-chat:4",
		"new-chat:2:lunch",
		"new-group:crew:2",
		"who",
	}, live.calls)
	require.Len(t, out.lines, 1)
	assert.Contains(t, out.lines[0], "selected #9")
}

func TestExecuteHelpAndQuit(t *testing.T) {
	live := &fakeLive{}
	out := &printed{}

	quit, err := execute(context.Background(), live, out, Command{Name: "help"})
	require.NoError(t, err)
	assert.False(t, quit)
	assert.Equal(t, []string{helpText}, out.lines)

	quit, err = execute(context.Background(), live, out, Command{Name: "quit"})
	require.NoError(t, err)
	assert.True(t, quit)
	assert.Empty(t, live.calls)
}

func TestMenuFailureSkipsHint(t *testing.T) {
	live := &fakeLive{err: compose.ErrNotOwnMessage}
	out := &printed{}

	_, err := execute(context.Background(), live, out, Command{Name: "menu", ID: 3})

	assert.ErrorIs(t, err, compose.ErrNotOwnMessage)
	assert.Empty(t, out.lines)
}

func TestReportPrintsOnlyLocalErrors(t *testing.T) {
	out := &printed{}

	report(out, nil)
	report(out, &api.Error{Status: 403, Detail: "You are not allowed to edit this message"})
	report(out, errors.New("dial tcp: refused"))
	report(out, directory.ErrNoActiveChat)
	report(out, compose.ErrNoTarget)

	assert.Equal(t, []string{directory.ErrNoActiveChat.Error(), compose.ErrNoTarget.Error()}, out.alerts)
}

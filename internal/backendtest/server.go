package backendtest

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

// Server is a running fake backend on a loopback port.
type Server struct {
	URL   string
	WSURL string

	Store  *Store
	Hub    *Hub
	Tokens *Tokens

	http *httptest.Server
	opts []Option

	mu       sync.Mutex
	requests map[string]int
	seen     map[string][]Seen
}

// Seen is the correlation a client sent with one request.
type Seen struct {
	RequestID string
	DeviceID  string
}

type Option func(*handler)

// WithAudit makes the backend emit audits for mutations.
func WithAudit(emitter *telemetry.AuditEmitter) Option {
	return func(h *handler) { h.audit = emitter }
}

// Start serves a fresh backend. Call Close when done.
func Start(opts ...Option) *Server {
	s := &Server{
		Store:    NewStore(),
		Hub:      NewHub(),
		Tokens:   NewTokens([]byte("backendtest-secret"), time.Hour),
		requests: make(map[string]int),
		seen:     make(map[string][]Seen),
		opts:     opts,
	}
	s.http = httptest.NewServer(s.Router())
	s.URL = s.http.URL
	s.WSURL = "ws" + strings.TrimPrefix(s.http.URL, "http")
	return s
}

// Router builds the gin engine serving the backend routes. The options given
// to Start apply first, then opts.
func (s *Server) Router(opts ...Option) *gin.Engine {
	h := &handler{store: s.Store, hub: s.Hub, tokens: s.Tokens}
	for _, opt := range s.opts {
		opt(h)
	}
	for _, opt := range opts {
		opt(h)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-backend"))
	router.Use(s.count)

	router.POST("/users", h.register)
	router.POST("/login", h.login)
	router.GET("/ws/:group_id", h.push)

	auth := router.Group("/", AuthMiddleware(s.Tokens))
	auth.GET("/users", h.listUsers)
	auth.GET("/chats", h.listChats)
	auth.POST("/chats", h.createChat)
	auth.POST("/groups", h.createGroup)
	auth.POST("/groups/:group_id/add_user", h.addUser)
	auth.GET("/groups/:group_id/users", h.groupUsers)
	auth.DELETE("/groups/:group_id", h.deleteGroup)
	auth.GET("/messages", h.listMessages)
	auth.POST("/messages", h.postMessage)
	auth.PUT("/messages/:message_id", h.editMessage)
	auth.DELETE("/messages/:message_id", h.deleteMessage)
	return router
}

func (s *Server) Close() {
	s.Hub.closeAll()
	s.http.CloseClientConnections()
	s.http.Close()
}

func (s *Server) count(c *gin.Context) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	key := c.Request.Method + " " + route
	s.mu.Lock()
	s.requests[key]++
	s.seen[key] = append(s.seen[key], Seen{
		RequestID: observability.RequestIDFromRequest(c.Request),
		DeviceID:  observability.DeviceIDFromRequest(c.Request),
	})
	s.mu.Unlock()
	c.Next()
}

// SeenRequests lists the correlation headers of every request to method and
// route pattern, oldest first.
func (s *Server) SeenRequests(method, route string) []Seen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Seen(nil), s.seen[method+" "+route]...)
}

// Requests reports how many requests reached method and route pattern,
// e.g. Requests("GET", "/messages").
func (s *Server) Requests(method, route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+route]
}

// TotalRequests reports every request the backend has seen.
func (s *Server) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

// SeedUser registers a user and returns a logged-in session for it.
func (s *Server) SeedUser(username string) (models.User, session.Session) {
	user, err := s.Store.CreateUser(username, username+"-pw")
	if err != nil {
		panic(fmt.Sprintf("seed user %s: %v", username, err))
	}
	token, err := s.Tokens.Issue(user.ID)
	if err != nil {
		panic(fmt.Sprintf("issue token: %v", err))
	}
	return user, session.Session{UserID: user.ID, Token: token, Username: username}
}

// SeedChat creates a group chat with the given members.
func (s *Server) SeedChat(name string, memberIDs ...int) models.Chat {
	chat, err := s.Store.CreateChat(name, models.ChatKindGroup, "", memberIDs...)
	if err != nil {
		panic(fmt.Sprintf("seed chat %s: %v", name, err))
	}
	return chat
}

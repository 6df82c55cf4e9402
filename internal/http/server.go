package http

import (
	"context"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"moff.io/moff-login/internal/config"
	"moff.io/moff-login/internal/session"
	"moff.io/moff-login/internal/view"
	"moff.io/moff-login/pkg/concurrent"
	"moff.io/moff-login/pkg/errors"
	"moff.io/moff-login/pkg/log"
	"moff.io/moff-login/pkg/log/meta"
	"moff.io/moff-login/pkg/log/middleware"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	sessionReadTimeout = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
	defaultMaxFeeds    = 64
)

type sessionResponse struct {
	Session session.Session `json:"session"`
	Page    view.Page       `json:"page"`
}

func newSessionResponse(s session.Session) sessionResponse {
	return sessionResponse{Session: s, Page: view.Build(s)}
}

// Server hosts the login page for one session manager.
type Server struct {
	manager  *session.Manager
	listen   string
	engine   *gin.Engine
	upgrader websocket.Upgrader
	feeds    concurrent.Limiter

	srv      *http.Server
	quit     chan struct{}
	stopOnce sync.Once
}

func NewServer(manager *session.Manager) *Server {
	s := &Server{
		manager: manager,
		listen:  ":8080",
		feeds:   concurrent.NewLimiter(defaultMaxFeeds),
		quit:    make(chan struct{}),
	}
	s.engine = s.router()
	return s
}

// Apply takes the listen address and the session feed cap from the
// configuration.
func (s *Server) Apply(c *config.Configuration) {
	if c == nil {
		return
	}
	if c.HTTP.Listen != "" {
		s.listen = c.HTTP.Listen
	}
	if c.HTTP.MaxFeeds > 0 {
		s.feeds = concurrent.NewLimiter(c.HTTP.MaxFeeds)
	}
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) router() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog())
	router.SetHTMLTemplate(pageTemplate)
	router.GET("/", s.index)
	router.GET("/session", middleware.TimeoutHTTP(sessionReadTimeout), s.getSession)
	// no timeout: approval in the wallet takes as long as the user needs
	router.POST("/connect", s.connect)
	router.GET("/session/ws", s.watch)
	return router
}

func record(ctx *gin.Context, current session.Session) {
	meta.WithValue(ctx.Request.Context(), meta.SessionStatusKey{}, current.Status.String())
}

func (s *Server) index(ctx *gin.Context) {
	current := s.manager.Session()
	record(ctx, current)
	ctx.HTML(http.StatusOK, "page", view.Build(current))
}

func (s *Server) getSession(ctx *gin.Context) {
	current := s.manager.Session()
	record(ctx, current)
	ctx.JSON(http.StatusOK, newSessionResponse(current))
}

func (s *Server) connect(ctx *gin.Context) {
	current := s.manager.Connect(ctx.Request.Context())
	record(ctx, current)
	if ctx.NegotiateFormat(gin.MIMEJSON, gin.MIMEHTML) == gin.MIMEHTML {
		ctx.Redirect(http.StatusSeeOther, "/")
		return
	}
	ctx.JSON(http.StatusOK, newSessionResponse(current))
}

// watch streams the session over a websocket: the current value first,
// then every change. Bursts are coalesced to the latest value.
func (s *Server) watch(ctx *gin.Context) {
	if !s.feeds.TryAdd() {
		ctx.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"code": 5030,
			"msg":  "too many session feeds",
		})
		return
	}
	defer s.feeds.Done()

	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warnf("http - websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	feed := newSessionFeed()
	cancel := s.manager.Watch(feed.push)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	current := s.manager.Session()
	feed.markSent(current)
	record(ctx, current)
	if err := conn.WriteJSON(newSessionResponse(current)); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-s.quit:
			return
		case <-feed.notify:
			current, ok := feed.next()
			if !ok {
				continue
			}
			if err := conn.WriteJSON(newSessionResponse(current)); err != nil {
				log.Debugf("http - websocket write: %v", err)
				return
			}
		}
	}
}

// sessionFeed coalesces session changes for one websocket. It remembers the
// value written last, so a change that lands between Watch and the initial
// snapshot is not sent twice.
type sessionFeed struct {
	mu     sync.Mutex
	latest session.Session
	sent   session.Session
	notify chan struct{}
}

func newSessionFeed() *sessionFeed {
	return &sessionFeed{notify: make(chan struct{}, 1)}
}

func (f *sessionFeed) push(current session.Session) {
	f.mu.Lock()
	f.latest = current
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *sessionFeed) markSent(current session.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = current
}

// next returns the value to write, false when the client already has it.
func (f *sessionFeed) next() (session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == f.sent {
		return session.Session{}, false
	}
	f.sent = f.latest
	return f.sent, true
}

// Start serves in the background until Stop.
func (s *Server) Start(ctx context.Context) {
	s.srv = &http.Server{
		Addr:    s.listen,
		Handler: s.engine,
		// requests end with the application
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Infof("http - listening on %v", s.listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(errors.WrapAndReport(err, "http server"))
		}
	}()
}

// Stop closes open session feeds and shuts the listener down gracefully.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	if s.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Errorf("http - shutdown: %v", err)
	}
}

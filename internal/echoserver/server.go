// Package echoserver is a development stand-in for the Chaos Lab backend. It
// provisions sessions over REST and serves their terminal channel, echoing
// keystrokes or driving a local shell.
package echoserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/JacobWarners/New-Chaos-Web/internal/clock"
	apiTypes "github.com/JacobWarners/New-Chaos-Web/pkg/api"
	"github.com/JacobWarners/New-Chaos-Web/pkg/realtime"
)

const (
	DefaultSessionLifetime = 60 * time.Minute
	DefaultExtendBy        = 30 * time.Minute

	// SessionQueryParam names the query parameter carrying the session id in
	// the websocket path handed out by provisioning.
	SessionQueryParam = "session"
)

var ErrSessionNotFound = errors.New("session not found")

type Config struct {
	SessionLifetime time.Duration
	ExtendBy        time.Duration
	// ProvisionDelay is how long run_terraform takes before the session
	// reports connected.
	ProvisionDelay time.Duration
	// Shell, when set, is started under a pty for each session instead of
	// echoing input.
	Shell string
	// FailScenarios are scenario ids whose provisioning always fails.
	FailScenarios []string
	Clock         clock.Clock
	Logger        *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.SessionLifetime <= 0 {
		c.SessionLifetime = DefaultSessionLifetime
	}
	if c.ExtendBy <= 0 {
		c.ExtendBy = DefaultExtendBy
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu       sync.Mutex
	sessions map[string]*scenarioSession
}

func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "echoserver"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*scenarioSession),
	}

	r := chi.NewRouter()
	r.Use(cors)
	r.Post("/api/scenarios", s.createScenario)
	r.Options("/api/scenarios", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get(realtime.TerminalPath, s.terminalWebSocket)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createScenario(w http.ResponseWriter, r *http.Request) {
	var req apiTypes.ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scenario := strings.TrimSpace(req.Repo)
	if scenario == "" {
		writeError(w, http.StatusBadRequest, "repo is required")
		return
	}

	sess := &scenarioSession{id: uuid.NewString(), scenario: scenario}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Info("scenario requested", "scenario", scenario, "session_id", sess.id)
	writeJSON(w, http.StatusOK, apiTypes.ScenarioResponse{
		Message:       "Scenario started!",
		SessionID:     sess.id,
		WebsocketPath: realtime.TerminalPath + "?" + SessionQueryParam + "=" + sess.id,
	})
}

func (s *Server) lookup(id string) (*scenarioSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Server) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) failing(scenario string) bool {
	for _, name := range s.cfg.FailScenarios {
		if name == scenario {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, apiTypes.ErrorResponse{Error: message})
}

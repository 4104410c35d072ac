// Package httpapi assembles every surface this relay exposes — the
// Xtream player API, the HDHomeRun emulation endpoints, per-target
// XMLTV, Prometheus metrics, a liveness probe, and an admin API for
// provisioning downstream credentials — into one chi router, generalized
// from a single hard-coded target into a multi-target, config-driven
// mount set, with the admin surface modeled on yourflock-roost's
// handlers_login.go/middleware.go Bearer-token gate.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtreamrelay/xtreamrelay/internal/config"
	"github.com/xtreamrelay/xtreamrelay/internal/hdhomerun"
	"github.com/xtreamrelay/xtreamrelay/internal/health"
	"github.com/xtreamrelay/xtreamrelay/internal/metrics"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/userstore"
	"github.com/xtreamrelay/xtreamrelay/internal/xmltv"
	"github.com/xtreamrelay/xtreamrelay/internal/xtreamapi"
)

// UserAdmin is the subset of userstore.Store (or userstore.AuditedStore,
// which embeds it) the admin API provisions downstream credentials
// through. A narrow interface here keeps this package from depending on
// userstore's bcrypt/YAML persistence internals.
type UserAdmin interface {
	AddUser(username, password, targetName string, maxConnections int, bouquet *model.Bouquet) error
	RemoveUser(username string) error
	Credential(username string) (model.Credential, bool)
}

// TargetRunner is the subset of internal/scheduler.Scheduler the admin
// API needs to trigger an on-demand re-ingestion of one target.
type TargetRunner interface {
	RunTarget(ctx context.Context, name string) error
}

// Server wires every configured sub-surface together behind one router.
type Server struct {
	XtreamAPI *xtreamapi.Server
	HDHomeRun *hdhomerun.Server
	XMLTV     *xmltv.Server

	Users     UserAdmin
	Scheduler TargetRunner
	Admin     config.AdminConfig
	Tokens    *userstore.TokenIssuer

	// ProviderURL and HDHRBaseURL, when set, back /healthz's upstream
	// and self checks (internal/health.CheckProvider/CheckEndpoints).
	ProviderURL string
	HDHRBaseURL string

	Log zerolog.Logger
}

// Router builds the top-level mux. Xtream player-API routes are
// mounted at the root since Xtream clients hard-code paths like
// /player_api.php and /live/{user}/{pass}/{id}; every other surface
// gets its own path prefix.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.Log))

	if s.XtreamAPI != nil {
		r.Mount("/", s.XtreamAPI.Router())
	}
	if s.HDHomeRun != nil {
		r.Mount("/hdhr", s.HDHomeRun.Router())
	}
	if s.XMLTV != nil {
		r.Mount("/xmltv", s.XMLTV.Router())
	}

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/healthz", s.handleHealthz)

	r.Route("/admin", func(ar chi.Router) {
		ar.Post("/login", s.handleAdminLogin)
		ar.Group(func(gr chi.Router) {
			gr.Use(s.requireAdmin)
			gr.Post("/users", s.handleCreateUser)
			gr.Delete("/users/{username}", s.handleDeleteUser)
			gr.Get("/users/{username}", s.handleGetUser)
			gr.Post("/targets/{target}/refresh", s.handleRefreshTarget)
		})
	})

	return r
}

// requestLogger logs one line per request (method, path, status,
// duration), modeled on ManuGH-xg2g's zerolog-based HTTP middleware.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{}

	if s.ProviderURL != "" {
		if err := health.CheckProvider(ctx, s.ProviderURL); err != nil {
			result["provider"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			result["provider"] = "ok"
		}
	}
	if s.HDHRBaseURL != "" {
		if err := health.CheckEndpoints(ctx, s.HDHRBaseURL); err != nil {
			result["hdhomerun"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			result["hdhomerun"] = "ok"
		}
	}
	if len(result) == 0 {
		result["status"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// handleAdminLogin checks the single configured operator credential
// and issues a short-lived bearer token for the rest of /admin. There
// is no per-admin user store: config.AdminConfig names exactly one
// operator.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if s.Admin.Username == "" || s.Tokens == nil {
		http.Error(w, "admin API not configured", http.StatusNotImplemented)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username != s.Admin.Username {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.Admin.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	token, err := s.Tokens.Issue(req.Username)
	if err != nil {
		http.Error(w, "could not issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

type adminContextKey struct{}

// requireAdmin validates the Bearer token issued by handleAdminLogin
// before letting a request reach a user-provisioning or refresh route.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Tokens == nil {
			http.Error(w, "admin API not configured", http.StatusNotImplemented)
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := s.Tokens.Validate(token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), adminContextKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type createUserRequest struct {
	Username       string         `json:"username"`
	Password       string         `json:"password"`
	Target         string         `json:"target"`
	MaxConnections int            `json:"max_connections"`
	Bouquet        *model.Bouquet `json:"bouquet,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.Users == nil {
		http.Error(w, "user store not configured", http.StatusNotImplemented)
		return
	}
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" || req.Target == "" {
		http.Error(w, "username, password and target are required", http.StatusBadRequest)
		return
	}
	bouquet := req.Bouquet
	if bouquet == nil {
		bouquet = &model.Bouquet{}
	}
	if err := s.Users.AddUser(req.Username, req.Password, req.Target, req.MaxConnections, bouquet); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if s.Users == nil {
		http.Error(w, "user store not configured", http.StatusNotImplemented)
		return
	}
	username := chi.URLParam(r, "username")
	if err := s.Users.RemoveUser(username); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if s.Users == nil {
		http.Error(w, "user store not configured", http.StatusNotImplemented)
		return
	}
	username := chi.URLParam(r, "username")
	cred, ok := s.Users.Credential(username)
	if !ok {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	cred.PasswordHash = ""
	writeJSON(w, http.StatusOK, cred)
}

func (s *Server) handleRefreshTarget(w http.ResponseWriter, r *http.Request) {
	if s.Scheduler == nil {
		http.Error(w, "scheduler not configured", http.StatusNotImplemented)
		return
	}
	target := chi.URLParam(r, "target")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	if err := s.Scheduler.RunTarget(ctx, target); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

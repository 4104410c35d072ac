// Package xtreamapi emulates the Xtream Codes player API,
// serving player_api.php/panel_api.php category and stream listings, VOD
// and series detail, and the live/movie/series/timeshift stream and
// resource endpoints, ported from m3u-filter's
// src/api/endpoints/xtream_api.rs and src/api/xtream_player_api.rs.
package xtreamapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/provider"
	"github.com/xtreamrelay/xtreamrelay/internal/repository"
	"github.com/xtreamrelay/xtreamrelay/internal/sharedstate"
)

const (
	actionGetAccountInfo     = "get_account_info"
	actionGetLiveCategories  = "get_live_categories"
	actionGetVODCategories   = "get_vod_categories"
	actionGetSeriesCategories = "get_series_categories"
	actionGetLiveStreams     = "get_live_streams"
	actionGetVODStreams      = "get_vod_streams"
	actionGetSeries          = "get_series"
	actionGetVODInfo         = "get_vod_info"
	actionGetSeriesInfo      = "get_series_info"
	actionGetEPG             = "get_epg"
	actionGetShortEPG        = "get_short_epg"
	actionGetCatchupTable    = "get_simple_data_table"
)

// Input is the upstream provider connection a target's items came from,
// used to build pass-through URLs for actions we don't serve from our own
// store (EPG, catchup).
type Input struct {
	Name     string
	BaseURL  string
	Username string
	Password string
}

// InputLookup resolves a stored item's InputName back to its upstream
// connection details.
type InputLookup interface {
	InputByName(name string) (Input, bool)
}

// UserStore authenticates downstream credentials, reports the target
// (lineup) name and live connection count for a user, and enforces
// max_connections around every stream a user opens.
type UserStore interface {
	Authenticate(username, password string) (*model.Credential, bool)
	TargetName(username string) string
	ActiveConnections(username string) int

	// Acquire reports whether username may open one more stream,
	// incrementing its live connection count only when it does. Callers
	// that get false must not proceed to stream and must not call
	// Release.
	Acquire(username string) bool
	// Release gives back one connection slot acquired via Acquire.
	Release(username string)
}

// Target is one configured output's three per-cluster playlist stores
// plus VOD/series detail stores.
type Target struct {
	Name         string
	Live         *repository.PlaylistStore
	Video        *repository.PlaylistStore
	Series       *repository.PlaylistStore
	VODInfo      *repository.InfoStore
	SeriesInfo   *repository.InfoStore
}

func (t *Target) storeFor(cluster model.Cluster) *repository.PlaylistStore {
	switch cluster {
	case model.ClusterVideo:
		return t.Video
	case model.ClusterSeries:
		return t.Series
	default:
		return t.Live
	}
}

// Server serves the Xtream player API for a set of targets.
type Server struct {
	Targets    map[string]*Target
	Users      UserStore
	Inputs     InputLookup
	Providers  *provider.Manager
	HTTPClient *http.Client
	BaseURL    string
	Log        zerolog.Logger

	// Broadcast, if set, shares one upstream fetch across every
	// reverse-proxy client currently watching the same item. Nil disables sharing: every client gets its own upstream
	// connection, as handleStream already did before this field
	// existed.
	Broadcast *sharedstate.Broadcaster
}

// Router builds the chi router for every Xtream player-API route this
// server handles.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	for _, p := range []string{"/player_api.php", "/panel_api.php", "/xtream"} {
		r.Get(p, s.handlePlayerAPI)
		r.Post(p, s.handlePlayerAPI)
	}

	r.Get("/{username}/{password}/{streamID}", s.handleStream(model.ClusterLive))
	r.Get("/live/{username}/{password}/{streamID}", s.handleStream(model.ClusterLive))
	r.Get("/movie/{username}/{password}/{streamID}", s.handleStream(model.ClusterVideo))
	r.Get("/series/{username}/{password}/{streamID}", s.handleStream(model.ClusterSeries))

	r.Get("/resource/live/{username}/{password}/{streamID}/{resource}", s.handleResource(model.ClusterLive))
	r.Get("/resource/movie/{username}/{password}/{streamID}/{resource}", s.handleResource(model.ClusterVideo))
	r.Get("/resource/series/{username}/{password}/{streamID}/{resource}", s.handleResource(model.ClusterSeries))

	for _, p := range []string{
		"/timeshift/{username}/{password}/{duration}/{start}/{streamID}",
		"/timeshift.php",
		"/streaming/timeshift.php",
	} {
		r.Get(p, s.handleTimeshift)
		r.Post(p, s.handleTimeshift)
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEmptyList(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("[]"))
}

// separateNumberAndRemainder splits a path segment like "41231.ts" into
// its leading numeric virtual id and trailing extension, matching the
// original's separate_number_and_remainder used for every stream_id
// path parameter.
func separateNumberAndRemainder(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}

func formOrQuery(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	if r.Method == http.MethodPost {
		_ = r.ParseForm()
		return r.Form.Get(key)
	}
	return ""
}

// accountInfo mirrors XtreamAuthorizationResponse: enough account-level
// fields for a client to treat this as a valid Xtream provider.
type accountInfo struct {
	UserInfo   userInfo   `json:"user_info"`
	ServerInfo serverInfo `json:"server_info"`
}

type userInfo struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	Auth            int    `json:"auth"`
	Status          string `json:"status"`
	ExpDate         string `json:"exp_date,omitempty"`
	MaxConnections  string `json:"max_connections"`
	ActiveCons      string `json:"active_cons"`
	CreatedAt       string `json:"created_at"`
}

type serverInfo struct {
	URL            string `json:"url"`
	Port           string `json:"port"`
	ServerProtocol string `json:"server_protocol"`
	TimezoneName   string `json:"timezone"`
}

func (s *Server) buildAccountInfo(cred *model.Credential) accountInfo {
	active := s.Users.ActiveConnections(cred.Username)
	expDate := ""
	if cred.ExpiresAt != nil {
		expDate = strconv.FormatInt(cred.ExpiresAt.Unix(), 10)
	}
	status := "Active"
	if !cred.Active(time.Now()) {
		status = "Expired"
	}
	base := s.BaseURL
	proto := "http"
	host := base
	if i := strings.Index(base, "://"); i >= 0 {
		proto = base[:i]
		host = base[i+3:]
	}
	port := "80"
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		port = host[idx+1:]
		host = host[:idx]
	}
	return accountInfo{
		UserInfo: userInfo{
			Username:       cred.Username,
			Password:       cred.PasswordHash,
			Auth:           1,
			Status:         status,
			ExpDate:        expDate,
			MaxConnections: strconv.Itoa(cred.MaxConnections),
			ActiveCons:     strconv.Itoa(active),
			CreatedAt:      strconv.FormatInt(cred.CreatedAt.Unix(), 10),
		},
		ServerInfo: serverInfo{
			URL:            host,
			Port:           port,
			ServerProtocol: proto,
			TimezoneName:   "UTC",
		},
	}
}

// handlePlayerAPI dispatches player_api.php/panel_api.php/xtream requests
// by the action query/form parameter.
func (s *Server) handlePlayerAPI(w http.ResponseWriter, r *http.Request) {
	username := formOrQuery(r, "username")
	password := formOrQuery(r, "password")
	cred, ok := s.Users.Authenticate(username, password)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !cred.Active(time.Now()) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	targetName := s.Users.TargetName(username)
	target, ok := s.Targets[targetName]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	action := strings.TrimSpace(formOrQuery(r, "action"))
	if action == "" {
		writeJSON(w, http.StatusOK, s.buildAccountInfo(cred))
		return
	}

	switch action {
	case actionGetAccountInfo:
		writeJSON(w, http.StatusOK, s.buildAccountInfo(cred))
	case actionGetLiveCategories:
		s.handleCategories(w, target, cred, model.ClusterLive)
	case actionGetVODCategories:
		s.handleCategories(w, target, cred, model.ClusterVideo)
	case actionGetSeriesCategories:
		s.handleCategories(w, target, cred, model.ClusterSeries)
	case actionGetLiveStreams:
		s.handleStreamsList(w, r, cred, target, model.ClusterLive)
	case actionGetVODStreams:
		s.handleStreamsList(w, r, cred, target, model.ClusterVideo)
	case actionGetSeries:
		s.handleStreamsList(w, r, cred, target, model.ClusterSeries)
	case actionGetVODInfo:
		s.handleInfo(w, cred, target, formOrQuery(r, "vod_id"), model.ClusterVideo)
	case actionGetSeriesInfo:
		s.handleInfo(w, cred, target, formOrQuery(r, "series_id"), model.ClusterSeries)
	case actionGetEPG, actionGetShortEPG:
		s.handleShortEPG(w, cred, target, formOrQuery(r, "stream_id"), formOrQuery(r, "limit"))
	case actionGetCatchupTable:
		s.handleCatchup(w, cred, target, formOrQuery(r, "stream_id"), formOrQuery(r, "start"), formOrQuery(r, "end"))
	default:
		writeEmptyList(w)
	}
}

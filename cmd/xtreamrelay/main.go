// Command xtreamrelay ingests one or more IPTV sources (M3U or Xtream
// player_api), filters/transforms them per target, and re-serves the
// result as Xtream Codes, HDHomeRun, and XMLTV endpoints for downstream
// clients such as Plex.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xtreamrelay/xtreamrelay/internal/config"
	"github.com/xtreamrelay/xtreamrelay/internal/hdhomerun"
	"github.com/xtreamrelay/xtreamrelay/internal/httpapi"
	"github.com/xtreamrelay/xtreamrelay/internal/logging"
	"github.com/xtreamrelay/xtreamrelay/internal/provider"
	"github.com/xtreamrelay/xtreamrelay/internal/repository"
	"github.com/xtreamrelay/xtreamrelay/internal/scheduler"
	"github.com/xtreamrelay/xtreamrelay/internal/sharedstate"
	"github.com/xtreamrelay/xtreamrelay/internal/userstore"
	"github.com/xtreamrelay/xtreamrelay/internal/xmltv"
	"github.com/xtreamrelay/xtreamrelay/internal/xtreamapi"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML deployment config")
	logLevel := flag.String("log-level", "info", "zerolog level: debug, info, warn, error")
	flag.Parse()

	log := logging.New(*logLevel, nil)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("xtreamrelay exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	connStore := buildConnStore(cfg, log)
	registry := sharedstate.NewRegistry(connStore, 30*time.Minute)

	base, err := userstore.Open(cfg.UserFile, registry)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	audit, err := userstore.OpenAuditLog(filepath.Join(cfg.StorageDir, "audit.db"))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer audit.Close()
	users := &userstore.AuditedStore{Store: base, Audit: audit}

	manager := provider.NewManager(false)
	registerLineups(manager, cfg)

	sched, err := scheduler.New(cfg, manager, logging.Component(log, "scheduler"))
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	sched.RunAll(startupCtx)
	cancel()
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	xtreamTargets, err := buildXtreamTargets(cfg, sched)
	if err != nil {
		return fmt.Errorf("build xtream targets: %w", err)
	}

	xapi := &xtreamapi.Server{
		Targets:    xtreamTargets,
		Users:      users,
		Inputs:     buildInputIndex(cfg),
		Providers:  manager,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    cfg.BaseURL,
		Log:        logging.Component(log, "xtreamapi"),
		Broadcast:  sharedstate.NewBroadcaster(),
	}

	var hdhr *hdhomerun.Server
	if cfg.HDHomeRun.Enabled {
		hdhr = &hdhomerun.Server{Targets: buildHDHRTargets(cfg, sched)}
	}

	xtv := &xmltv.Server{
		EPGPath:   epgPathResolver(cfg),
		Timeshift: epgTimeshiftResolver(users),
	}

	httpSrv := &httpapi.Server{
		XtreamAPI:   xapi,
		HDHomeRun:   hdhr,
		XMLTV:       xtv,
		Users:       users,
		Scheduler:   sched,
		Admin:       cfg.Admin,
		Tokens:      adminTokenIssuer(cfg),
		ProviderURL: firstInputURL(cfg),
		Log:         logging.Component(log, "httpapi"),
	}

	return serve(cfg, httpSrv, log)
}

// serve starts the HTTP server and blocks until SIGINT/SIGTERM, then
// drains in-flight requests before returning.
func serve(cfg *config.Config, httpSrv *httpapi.Server, log zerolog.Logger) error {
	addr := cfg.Listen
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: httpSrv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		log.Info().Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildConnStore picks the sharedstate.Store backing the connection
// registry: Redis for a multi-process deployment behind one load
// balancer, or the in-process map otherwise.
func buildConnStore(cfg *config.Config, log zerolog.Logger) sharedstate.Store {
	if cfg.Redis == nil {
		return sharedstate.NewMemoryStore()
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis-backed connection registry")
	return sharedstate.NewRedisStore(client, 30*time.Minute)
}

// registerLineups builds one provider.Lineup per target from the
// provider configs of the inputs it depends on, keyed by target name
// since internal/xtreamapi acquires/releases provider connections by
// target, not by input.
func registerLineups(manager *provider.Manager, cfg *config.Config) {
	inputsByName := make(map[string]config.Input, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		inputsByName[in.Name] = in
	}

	var nextID uint16
	for _, t := range cfg.Targets {
		var configs []provider.Config
		for _, inName := range t.Inputs {
			in, ok := inputsByName[inName]
			if !ok {
				continue
			}
			nextID++
			configs = append(configs, provider.Config{
				ID:             nextID,
				Name:           in.Name,
				URL:            in.URL,
				Username:       in.Username,
				Password:       in.Password,
				MaxConnections: uint16(in.MaxConnections),
				Priority:       int16(in.Priority),
			})
		}
		if len(configs) == 0 {
			continue
		}
		lineup := provider.NewLineup(configs[0], configs[1:]...)
		manager.AddLineup(t.Name, lineup)
	}
}

func buildXtreamTargets(cfg *config.Config, sched *scheduler.Scheduler) (map[string]*xtreamapi.Target, error) {
	out := make(map[string]*xtreamapi.Target, len(cfg.Targets))
	for _, t := range cfg.Targets {
		live, video, series, vodInfo, seriesInfo, ok := sched.Stores(t.Name)
		if !ok {
			return nil, fmt.Errorf("no runtime stores for target %q", t.Name)
		}
		out[t.Name] = &xtreamapi.Target{
			Name:       t.Name,
			Live:       live,
			Video:      video,
			Series:     series,
			VODInfo:    vodInfo,
			SeriesInfo: seriesInfo,
		}
	}
	return out, nil
}

func buildHDHRTargets(cfg *config.Config, sched *scheduler.Scheduler) map[string]*hdhomerun.Target {
	out := make(map[string]*hdhomerun.Target, len(cfg.Targets))
	for _, t := range cfg.Targets {
		live, _, _, _, _, ok := sched.Stores(t.Name)
		if !ok {
			continue
		}
		out[t.Name] = &hdhomerun.Target{
			Identity: hdhomerun.Identity{
				DeviceID:     fmt.Sprintf("%s-%s", cfg.HDHomeRun.DeviceID, t.Name),
				FriendlyName: fmt.Sprintf("%s (%s)", cfg.HDHomeRun.FriendlyName, t.Name),
				TunerCount:   cfg.HDHomeRun.TunerCount,
				BaseURL:      cfg.BaseURL + "/hdhr/" + t.Name,
			},
			Live: live,
		}
	}
	return out
}

type inputIndex map[string]xtreamapi.Input

func (m inputIndex) InputByName(name string) (xtreamapi.Input, bool) {
	in, ok := m[name]
	return in, ok
}

func buildInputIndex(cfg *config.Config) inputIndex {
	out := make(inputIndex, len(cfg.Inputs))
	for _, in := range cfg.Inputs {
		out[in.Name] = xtreamapi.Input{Name: in.Name, BaseURL: in.URL, Username: in.Username, Password: in.Password}
	}
	return out
}

func epgPathResolver(cfg *config.Config) xmltv.EPGPath {
	return func(targetName string) (string, error) {
		path := repository.NewTargetPaths(cfg.StorageDir, targetName).EPGExport()
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
}

// epgTimeshiftResolver reads the requesting user's configured
// epg_timeshift, identified by the same "username" query parameter
// m3u-filter's xmltv_api.rs reads it from.
func epgTimeshiftResolver(users *userstore.AuditedStore) xmltv.Timeshift {
	return func(r *http.Request) string {
		username := r.URL.Query().Get("username")
		if username == "" {
			return ""
		}
		cred, ok := users.Credential(username)
		if !ok {
			return ""
		}
		return cred.EpgTimeShift
	}
}

func adminTokenIssuer(cfg *config.Config) *userstore.TokenIssuer {
	if cfg.Admin.Username == "" {
		return nil
	}
	return userstore.NewTokenIssuer(cfg.Admin.JWTSecret, 15*time.Minute)
}

func firstInputURL(cfg *config.Config) string {
	if len(cfg.Inputs) == 0 {
		return ""
	}
	return cfg.Inputs[0].URL
}

// Package scheduler drives periodic re-ingestion of every configured
// input into every target that consumes it, ported from m3u-filter's scheduled-update loop
// (src/scheduler.rs) onto robfig/cron/v3 the way a Go service would
// schedule recurring work.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xtreamrelay/xtreamrelay/internal/config"
	"github.com/xtreamrelay/xtreamrelay/internal/metrics"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/parser"
	"github.com/xtreamrelay/xtreamrelay/internal/pipeline"
	"github.com/xtreamrelay/xtreamrelay/internal/provider"
	"github.com/xtreamrelay/xtreamrelay/internal/repository"
	"github.com/xtreamrelay/xtreamrelay/internal/resolver"
)

// targetRuntime is everything a configured target needs re-built once at
// startup: its compiled filter/rename/map/sort chain, the per-target
// virtual-id map, and the backing playlist/info stores.
type targetRuntime struct {
	cfg        config.Target
	paths      repository.TargetPaths
	pipeline   pipeline.Config
	vidmap     *repository.VidMap
	live       *repository.PlaylistStore
	video      *repository.PlaylistStore
	series     *repository.PlaylistStore
	vodInfo    *repository.InfoStore
	seriesInfo *repository.InfoStore
	mu         sync.Mutex // source-update lock: one ingestion run per target at a time
}

// Scheduler owns every target's runtime stores and runs scheduled or
// on-demand ingestion cycles against the configured inputs.
type Scheduler struct {
	cfg     *config.Config
	manager *provider.Manager
	log     zerolog.Logger

	targets map[string]*targetRuntime
	cron    *cron.Cron
	entryID cron.EntryID
}

// New builds runtime state for every configured target: opens its
// virtual-id map, playlist stores and info stores under
// storage/<target>/.
func New(cfg *config.Config, manager *provider.Manager, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cfg:     cfg,
		manager: manager,
		log:     log,
		targets: make(map[string]*targetRuntime),
	}
	templateValues, err := cfg.TemplateValues()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	for _, t := range cfg.Targets {
		rt, err := newTargetRuntime(cfg.StorageDir, t, templateValues)
		if err != nil {
			return nil, fmt.Errorf("scheduler: target %q: %w", t.Name, err)
		}
		s.targets[t.Name] = rt
	}
	return s, nil
}

func newTargetRuntime(storageDir string, t config.Target, templateValues map[string]string) (*targetRuntime, error) {
	paths := repository.NewTargetPaths(storageDir, t.Name)
	if err := os.MkdirAll(paths.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	vidMain, vidIndex := paths.VirtualIDMap()
	vidmap, err := repository.OpenVidMap(vidMain, vidIndex)
	if err != nil {
		return nil, fmt.Errorf("open vidmap: %w", err)
	}

	liveMain, liveIndex := paths.PlaylistCollection("live")
	live, err := repository.OpenPlaylistStore(liveMain, liveIndex)
	if err != nil {
		return nil, fmt.Errorf("open live store: %w", err)
	}
	videoMain, videoIndex := paths.PlaylistCollection("video")
	video, err := repository.OpenPlaylistStore(videoMain, videoIndex)
	if err != nil {
		return nil, fmt.Errorf("open video store: %w", err)
	}
	seriesMain, seriesIndex := paths.PlaylistCollection("series")
	series, err := repository.OpenPlaylistStore(seriesMain, seriesIndex)
	if err != nil {
		return nil, fmt.Errorf("open series store: %w", err)
	}

	vodInfoMain, vodInfoIndex := paths.InfoContentCollection("video")
	vodInfo, err := repository.OpenInfoStore(vodInfoMain, vodInfoIndex)
	if err != nil {
		return nil, fmt.Errorf("open vod info store: %w", err)
	}
	seriesInfoMain, seriesInfoIndex := paths.InfoContentCollection("series")
	seriesInfo, err := repository.OpenInfoStore(seriesInfoMain, seriesInfoIndex)
	if err != nil {
		return nil, fmt.Errorf("open series info store: %w", err)
	}

	pcfg, err := t.PipelineConfig(templateValues)
	if err != nil {
		return nil, fmt.Errorf("compile pipeline: %w", err)
	}

	return &targetRuntime{
		cfg:        t,
		paths:      paths,
		pipeline:   pcfg,
		vidmap:     vidmap,
		live:       live,
		video:      video,
		series:     series,
		vodInfo:    vodInfo,
		seriesInfo: seriesInfo,
	}, nil
}

// Start registers the configured cron schedule and begins running
// ingestion cycles in the background. A disabled scheduler is a no-op:
// callers can still invoke RunAll directly (e.g. from an admin
// "refresh now" endpoint).
func (s *Scheduler) Start() error {
	if !s.cfg.Scheduler.Enabled {
		s.log.Info().Msg("scheduler disabled, skipping cron registration")
		return nil
	}
	s.cron = cron.New()
	id, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.RunAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler: bad cron expression %q: %w", s.cfg.Scheduler.Cron, err)
	}
	s.entryID = id
	s.cron.Start()
	s.log.Info().Str("cron", s.cfg.Scheduler.Cron).Msg("scheduler started")
	return nil
}

// Stop cancels the cron schedule and waits for any in-flight run to
// finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunAll fetches every configured input once, concurrently, and
// re-ingests every target that consumes it. Inputs shared by multiple
// targets are fetched only once per cycle; one input's fetch failure
// never blocks the others.
func (s *Scheduler) RunAll(ctx context.Context) {
	fetched := make(map[string][]model.Item, len(s.cfg.Inputs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, in := range s.cfg.Inputs {
		in := in
		g.Go(func() error {
			items, err := s.fetchInput(gctx, in)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				s.log.Error().Err(err).Str("input", in.Name).Msg("fetch failed")
			}
			metrics.ProviderFetchTotal.WithLabelValues(in.Name, outcome).Inc()
			mu.Lock()
			fetched[in.Name] = items
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-input errors are logged and counted above, never fatal to the cycle

	for _, t := range s.cfg.Targets {
		s.runTarget(ctx, t.Name, fetched)
	}
}

// RunTarget re-ingests a single named target on demand, fetching only
// the inputs it depends on (used by an admin "refresh now" action, not
// the scheduled cron path).
func (s *Scheduler) RunTarget(ctx context.Context, name string) error {
	rt, ok := s.targets[name]
	if !ok {
		return fmt.Errorf("scheduler: unknown target %q", name)
	}
	fetched := make(map[string][]model.Item, len(rt.cfg.Inputs))
	for _, inName := range rt.cfg.Inputs {
		in, ok := s.inputByName(inName)
		if !ok {
			continue
		}
		items, err := s.fetchInput(ctx, in)
		if err != nil {
			return err
		}
		fetched[inName] = items
	}
	s.runTarget(ctx, name, fetched)
	return nil
}

func (s *Scheduler) inputByName(name string) (config.Input, bool) {
	for _, in := range s.cfg.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return config.Input{}, false
}

// fetchInput probes the input's reachability before spending a full
// parse on it (internal/provider.ProbeOne/ProbePlayerAPI classify
// Cloudflare challenge pages and bad/timeout responses that would
// otherwise surface as a confusing parse error), then fetches and
// parses it into items.
func (s *Scheduler) fetchInput(ctx context.Context, in config.Input) ([]model.Item, error) {
	switch in.Type {
	case config.InputXtream:
		probe := provider.ProbePlayerAPI(ctx, in.URL, in.Username, in.Password, nil)
		if probe.Status != provider.StatusOK {
			return nil, fmt.Errorf("probe %s: %s (HTTP %d)", in.Name, probe.Status, probe.StatusCode)
		}
		creds := parser.XtreamCredentials{BaseURL: in.URL, Username: in.Username, Password: in.Password}
		live, vod, series, err := parser.FetchXtream(ctx, creds, in.Name, 0, nil)
		if err != nil {
			return nil, err
		}
		items := make([]model.Item, 0, len(live)+len(vod)+len(series))
		items = append(items, live...)
		items = append(items, vod...)
		items = append(items, series...)
		return items, nil
	default:
		probe := provider.ProbeOne(ctx, in.URL, nil)
		if probe.Status != provider.StatusOK {
			return nil, fmt.Errorf("probe %s: %s (HTTP %d)", in.Name, probe.Status, probe.StatusCode)
		}
		entries, err := parser.FetchM3U(ctx, in.URL, nil)
		if err != nil {
			return nil, err
		}
		items := make([]model.Item, 0, len(entries))
		for _, e := range entries {
			items = append(items, e.ToItem(in.Name, 0))
		}
		return items, nil
	}
}

// fetchTargetEPG downloads the raw XMLTV document from the first of the
// target's inputs that carries an epg_url, saving it to the target's
// EPGExport path. internal/xmltv only parses/rewrites a file already on
// disk; this is what puts one there. A target with no epg_url-bearing
// input is left to internal/xmltv's WriteEmpty fallback.
func (s *Scheduler) fetchTargetEPG(rt *targetRuntime) error {
	var epgURL string
	for _, inName := range rt.cfg.Inputs {
		in, ok := s.inputByName(inName)
		if ok && in.EPGURL != "" {
			epgURL = in.EPGURL
			break
		}
	}
	if epgURL == "" {
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, epgURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("epg fetch: %s returned HTTP %d", epgURL, resp.StatusCode)
	}

	tmp := rt.paths.EPGExport() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, rt.paths.EPGExport())
}

// runTarget applies one target's pipeline over its inputs' already-fetched
// items, assigns virtual ids from the target's vidmap, and rewrites its
// three per-cluster playlist stores. The target's mutex serializes this
// against any concurrent run for the same target.
func (s *Scheduler) runTarget(ctx context.Context, name string, fetched map[string][]model.Item) {
	rt, ok := s.targets[name]
	if !ok {
		return
	}
	if !rt.mu.TryLock() {
		s.log.Warn().Str("target", name).Msg("skipping run: previous ingestion still in progress")
		return
	}
	defer rt.mu.Unlock()

	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.IngestDuration.WithLabelValues(name, outcome).Observe(time.Since(start).Seconds())
	}()

	var combined []model.Item
	for _, inName := range rt.cfg.Inputs {
		combined = append(combined, fetched[inName]...)
	}

	combined = pipeline.Run(rt.pipeline, combined)

	var liveItems, videoItems, seriesItems []model.Item
	for _, it := range combined {
		vid, err := rt.vidmap.Resolve(it.UUID, it.ProviderID, it.ItemType, it.ParentProviderID)
		if err != nil {
			s.log.Error().Err(err).Str("target", name).Msg("vidmap resolve failed")
			outcome = "error"
			continue
		}
		it.VirtualID = vid
		switch it.Cluster {
		case model.ClusterVideo:
			videoItems = append(videoItems, it)
		case model.ClusterSeries:
			seriesItems = append(seriesItems, it)
		default:
			liveItems = append(liveItems, it)
		}
	}

	for _, it := range s.resolveDetail(ctx, rt, name, videoItems, seriesItems) {
		vid, err := rt.vidmap.Resolve(it.UUID, it.ProviderID, it.ItemType, it.ParentProviderID)
		if err != nil {
			s.log.Error().Err(err).Str("target", name).Msg("vidmap resolve failed for episode")
			outcome = "error"
			continue
		}
		it.VirtualID = vid
		seriesItems = append(seriesItems, it)
	}

	if err := rt.live.WritePlaylist(liveItems); err != nil {
		s.log.Error().Err(err).Str("target", name).Msg("write live playlist failed")
		outcome = "error"
	}
	if err := rt.video.WritePlaylist(videoItems); err != nil {
		s.log.Error().Err(err).Str("target", name).Msg("write video playlist failed")
		outcome = "error"
	}
	if err := rt.series.WritePlaylist(seriesItems); err != nil {
		s.log.Error().Err(err).Str("target", name).Msg("write series playlist failed")
		outcome = "error"
	}
	if err := rt.vidmap.Store(); err != nil {
		s.log.Error().Err(err).Str("target", name).Msg("flush vidmap failed")
		outcome = "error"
	}

	if err := s.fetchTargetEPG(rt); err != nil {
		s.log.Warn().Err(err).Str("target", name).Msg("epg fetch failed, serving prior/empty guide")
	}

	s.log.Info().Str("target", name).
		Int("live", len(liveItems)).Int("video", len(videoItems)).Int("series", len(seriesItems)).
		Dur("took", time.Since(start)).Msg("ingestion run complete")
}

// xtreamFetcher adapts parser's standalone get_vod_info/get_series_info
// calls to resolver.VODInfoFetcher.
type xtreamFetcher struct {
	creds parser.XtreamCredentials
}

func (f xtreamFetcher) FetchVODInfo(ctx context.Context, providerID int) (map[string]any, string, error) {
	return parser.FetchVODInfo(ctx, f.creds, providerID, nil)
}

func (f xtreamFetcher) FetchSeriesInfo(ctx context.Context, providerID int) (map[string]any, string, []parser.SeriesEpisode, string, int, error) {
	info, err := parser.FetchSeriesInfo(ctx, f.creds, providerID, nil)
	if err != nil {
		return nil, "", nil, "", 0, err
	}
	return info.Raw, info.LastModified, info.Episodes, info.SeriesTitle, info.CategoryID, nil
}

// resolveDetail runs the deferred get_vod_info/get_series_info pass for
// every Xtream input feeding this target, persisting results into the
// target's info/record stores, and returns one materialized model.Item
// per resolved series episode so the caller can route them through the
// same series playlist store as ordinary items. m3u inputs carry no
// player_api to resolve against and are skipped.
func (s *Scheduler) resolveDetail(ctx context.Context, rt *targetRuntime, name string, videoItems, seriesItems []model.Item) []model.Item {
	var episodeItems []model.Item
	for _, inName := range rt.cfg.Inputs {
		in, ok := s.inputByName(inName)
		if !ok || in.Type != config.InputXtream {
			continue
		}

		var vodForInput, seriesForInput []model.Item
		for _, it := range videoItems {
			if it.InputName == inName {
				vodForInput = append(vodForInput, it)
			}
		}
		for _, it := range seriesItems {
			if it.InputName != inName {
				continue
			}
			// resolver.ResolveSeries only acts on model.ItemSeriesInfo;
			// get_series placeholders come out of parser.FetchXtream
			// tagged model.ItemSeries (the "series" filter keyword
			// matches both), so resolve against a retagged copy rather
			// than mutating the item already headed for the series
			// playlist write below.
			it.ItemType = model.ItemSeriesInfo
			seriesForInput = append(seriesForInput, it)
		}
		if len(vodForInput) == 0 && len(seriesForInput) == 0 {
			continue
		}

		creds := parser.XtreamCredentials{BaseURL: in.URL, Username: in.Username, Password: in.Password}
		res := resolver.New(creds, xtreamFetcher{creds: creds}, in.ResolveDelayDuration())

		if len(vodForInput) > 0 {
			vodMain, vodIndex := rt.paths.InfoContentCollection("video")
			recMain, recIndex := rt.paths.InfoRecordCollection("video")
			vt := resolver.VODTarget{InfoMainPath: vodMain, InfoIndexPath: vodIndex, RecordMainPath: recMain, RecordIndexPath: recIndex}
			fetchErrs, err := res.ResolveVOD(ctx, vt, vodForInput)
			if err != nil {
				s.log.Error().Err(err).Str("target", name).Str("input", inName).Msg("resolve vod info failed")
			}
			for _, e := range fetchErrs {
				s.log.Warn().Err(e).Str("target", name).Str("input", inName).Msg("vod info fetch error")
			}
		}

		if len(seriesForInput) > 0 {
			seriesMain, seriesIndex := rt.paths.InfoContentCollection("series")
			recMain, recIndex := rt.paths.InfoRecordCollection("series")
			st := resolver.SeriesTarget{InfoMainPath: seriesMain, InfoIndexPath: seriesIndex, RecordMainPath: recMain, RecordIndexPath: recIndex}
			eps, fetchErrs, err := res.ResolveSeries(ctx, st, seriesForInput)
			if err != nil {
				s.log.Error().Err(err).Str("target", name).Str("input", inName).Msg("resolve series info failed")
			}
			for _, e := range fetchErrs {
				s.log.Warn().Err(e).Str("target", name).Str("input", inName).Msg("series info fetch error")
			}
			episodeItems = append(episodeItems, eps...)
		}
	}
	return episodeItems
}

// Stores exposes a target's backing playlist/info stores so
// internal/httpapi can build its internal/xtreamapi.Target and
// internal/hdhomerun.Target wiring from the same runtime state the
// scheduler writes into.
func (s *Scheduler) Stores(name string) (live, video, series *repository.PlaylistStore, vodInfo, seriesInfo *repository.InfoStore, ok bool) {
	rt, ok := s.targets[name]
	if !ok {
		return nil, nil, nil, nil, nil, false
	}
	return rt.live, rt.video, rt.series, rt.vodInfo, rt.seriesInfo, true
}

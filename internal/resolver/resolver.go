package resolver

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"github.com/xtreamrelay/xtreamrelay/internal/errs"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/parser"
	"github.com/xtreamrelay/xtreamrelay/internal/store"
)

// Resolver fetches deferred Xtream VOD/series detail for placeholder
// items and stages it through a WAL before merging into the target's
// info/record stores.
type Resolver struct {
	Creds   parser.XtreamCredentials
	Fetcher VODInfoFetcher

	limiter *rate.Limiter
}

// VODInfoFetcher abstracts the provider's get_vod_info/get_series_info
// call so tests can stub it without an HTTP round trip.
type VODInfoFetcher interface {
	FetchVODInfo(ctx context.Context, providerID int) (raw map[string]any, lastModified string, err error)
	FetchSeriesInfo(ctx context.Context, providerID int) (raw map[string]any, lastModified string, episodes []parser.SeriesEpisode, seriesTitle string, categoryID int, err error)
}

// New returns a Resolver throttled to one provider call per resolveDelay.
func New(creds parser.XtreamCredentials, fetcher VODInfoFetcher, resolveDelay time.Duration) *Resolver {
	var limiter *rate.Limiter
	if resolveDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(resolveDelay), 1)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Resolver{Creds: creds, Fetcher: fetcher, limiter: limiter}
}

func (r *Resolver) wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// VODTarget bundles the persistence the VOD resolve pass writes to.
type VODTarget struct {
	InfoMainPath, InfoIndexPath     string
	RecordMainPath, RecordIndexPath string
}

// ResolveVOD fetches detail for every placeholder VOD item whose record
// is absent or stale, stages results to a WAL pair, and merges the WAL
// into the target's info and record stores only once the whole pass
// completes. Individual fetch failures are
// collected and returned as notify-level errors without aborting the
// pass.
func (r *Resolver) ResolveVOD(ctx context.Context, target VODTarget, items []model.Item) ([]error, error) {
	records, err := OpenRecordStore(target.RecordMainPath, target.RecordIndexPath)
	if err != nil {
		return nil, err
	}

	contentWAL, err := store.OpenWAL(target.InfoMainPath + ".wal")
	if err != nil {
		return nil, err
	}
	recordWAL, err := store.OpenWAL(target.RecordMainPath + ".wal")
	if err != nil {
		contentWAL.Discard()
		return nil, err
	}

	var collected []error
	updated := false

	for _, it := range items {
		if it.ItemType != model.ItemVideo {
			continue
		}
		providerID := it.ProviderID

		if err := r.wait(ctx); err != nil {
			collected = append(collected, errs.Notify(err, "resolver: throttle wait for vod %d", providerID))
			continue
		}

		raw, lastModified, err := r.Fetcher.FetchVODInfo(ctx, int(providerID))
		if err != nil {
			collected = append(collected, errs.Notify(err, "resolver: fetch vod info %d", providerID))
			continue
		}
		if !records.NeedsUpdate(providerID, lastModified) {
			continue
		}

		payload, err := json.Marshal(raw)
		if err != nil {
			collected = append(collected, errs.Notify(err, "resolver: encode vod info %d", providerID))
			continue
		}
		if err := contentWAL.Append(providerID, payload); err != nil {
			return collected, err
		}
		recPayload, err := json.Marshal(recordEntry{ProviderID: providerID, LastModified: lastModified})
		if err != nil {
			return collected, err
		}
		if err := recordWAL.Append(providerID, recPayload); err != nil {
			return collected, err
		}
		records.known[providerID] = lastModified
		updated = true
	}

	if !updated {
		contentWAL.Discard()
		recordWAL.Discard()
		return collected, nil
	}

	if err := contentWAL.Merge(target.InfoMainPath, target.InfoIndexPath); err != nil {
		recordWAL.Discard()
		return collected, err
	}
	if err := recordWAL.Merge(target.RecordMainPath, target.RecordIndexPath); err != nil {
		return collected, err
	}
	return collected, nil
}

// SeriesTarget bundles the persistence the series resolve pass writes to,
// plus the episode info collection episodes are exploded into.
type SeriesTarget struct {
	InfoMainPath, InfoIndexPath     string
	RecordMainPath, RecordIndexPath string
}

// ResolveSeries is the series analogue of ResolveVOD: for each
// placeholder SeriesInfo item needing refresh, it fetches the season
// listing, stages the raw document, and materializes one model.Item per
// episode so the caller can route them through the same processing
// pipeline as regular items.
func (r *Resolver) ResolveSeries(ctx context.Context, target SeriesTarget, items []model.Item) ([]model.Item, []error, error) {
	records, err := OpenRecordStore(target.RecordMainPath, target.RecordIndexPath)
	if err != nil {
		return nil, nil, err
	}

	contentWAL, err := store.OpenWAL(target.InfoMainPath + ".wal")
	if err != nil {
		return nil, nil, err
	}
	recordWAL, err := store.OpenWAL(target.RecordMainPath + ".wal")
	if err != nil {
		contentWAL.Discard()
		return nil, nil, err
	}

	var collected []error
	var episodeItems []model.Item
	updated := false

	for _, it := range items {
		if it.ItemType != model.ItemSeriesInfo {
			continue
		}
		providerID := it.ProviderID

		if err := r.wait(ctx); err != nil {
			collected = append(collected, errs.Notify(err, "resolver: throttle wait for series %d", providerID))
			continue
		}

		raw, lastModified, episodes, seriesTitle, categoryID, err := r.Fetcher.FetchSeriesInfo(ctx, int(providerID))
		if err != nil {
			collected = append(collected, errs.Notify(err, "resolver: fetch series info %d", providerID))
			continue
		}
		if !records.NeedsUpdate(providerID, lastModified) {
			continue
		}

		payload, err := json.Marshal(raw)
		if err != nil {
			collected = append(collected, errs.Notify(err, "resolver: encode series info %d", providerID))
			continue
		}
		if err := contentWAL.Append(providerID, payload); err != nil {
			return episodeItems, collected, err
		}
		recPayload, err := json.Marshal(recordEntry{ProviderID: providerID, LastModified: lastModified})
		if err != nil {
			return episodeItems, collected, err
		}
		if err := recordWAL.Append(providerID, recPayload); err != nil {
			return episodeItems, collected, err
		}
		records.known[providerID] = lastModified
		updated = true

		for _, ep := range episodes {
			episodeItems = append(episodeItems, parser.EpisodeToItem(ep, r.Creds, it.InputName, seriesTitle, providerID, categoryID))
		}
	}

	if !updated {
		contentWAL.Discard()
		recordWAL.Discard()
		return episodeItems, collected, nil
	}

	if err := contentWAL.Merge(target.InfoMainPath, target.InfoIndexPath); err != nil {
		recordWAL.Discard()
		return episodeItems, collected, err
	}
	if err := recordWAL.Merge(target.RecordMainPath, target.RecordIndexPath); err != nil {
		return episodeItems, collected, err
	}
	return episodeItems, collected, nil
}

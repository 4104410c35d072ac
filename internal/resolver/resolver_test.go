package resolver

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/parser"
	"github.com/xtreamrelay/xtreamrelay/internal/store"
)

type fakeFetcher struct {
	vodLastModified    map[int]string
	seriesLastModified map[int]string
	seriesEpisodes     map[int][]parser.SeriesEpisode
	calls              int
}

func (f *fakeFetcher) FetchVODInfo(_ context.Context, providerID int) (map[string]any, string, error) {
	f.calls++
	return map[string]any{"info": map[string]any{"name": "movie"}}, f.vodLastModified[providerID], nil
}

func (f *fakeFetcher) FetchSeriesInfo(_ context.Context, providerID int) (map[string]any, string, []parser.SeriesEpisode, string, int, error) {
	f.calls++
	return map[string]any{"info": map[string]any{"name": "show"}}, f.seriesLastModified[providerID], f.seriesEpisodes[providerID], "Show", 5, nil
}

func TestResolveVODSkipsUpToDateRecord(t *testing.T) {
	dir := t.TempDir()
	target := VODTarget{
		InfoMainPath:    filepath.Join(dir, "vod_info.db"),
		InfoIndexPath:   filepath.Join(dir, "vod_info.idx"),
		RecordMainPath:  filepath.Join(dir, "vod_record.db"),
		RecordIndexPath: filepath.Join(dir, "vod_record.idx"),
	}

	fetcher := &fakeFetcher{vodLastModified: map[int]string{1: "2026-01-01"}}
	r := New(parser.XtreamCredentials{BaseURL: "http://p", Username: "u", Password: "p"}, fetcher, 0)

	items := []model.Item{{ProviderID: 1, ItemType: model.ItemVideo}}
	errs1, err := r.ResolveVOD(context.Background(), target, items)
	if err != nil {
		t.Fatalf("ResolveVOD: %v", err)
	}
	if len(errs1) != 0 {
		t.Fatalf("unexpected errors: %v", errs1)
	}

	// Second pass with the same last_modified should not re-stage anything,
	// but must not error either.
	errs2, err := r.ResolveVOD(context.Background(), target, items)
	if err != nil {
		t.Fatalf("ResolveVOD (second pass): %v", err)
	}
	if len(errs2) != 0 {
		t.Fatalf("unexpected errors on second pass: %v", errs2)
	}

	buf, err := store.ReadIndexedItem(target.InfoMainPath, target.InfoIndexPath, 1)
	if err != nil {
		t.Fatalf("ReadIndexedItem: %v", err)
	}
	if len(buf) == 0 {
		t.Fatal("expected persisted vod info content")
	}
}

func TestResolveSeriesMaterializesEpisodeItems(t *testing.T) {
	dir := t.TempDir()
	target := SeriesTarget{
		InfoMainPath:    filepath.Join(dir, "series_info.db"),
		InfoIndexPath:   filepath.Join(dir, "series_info.idx"),
		RecordMainPath:  filepath.Join(dir, "series_record.db"),
		RecordIndexPath: filepath.Join(dir, "series_record.idx"),
	}

	fetcher := &fakeFetcher{
		seriesLastModified: map[int]string{7: "2026-02-01"},
		seriesEpisodes: map[int][]parser.SeriesEpisode{
			7: {
				{ID: "101", SeasonNum: 1, EpisodeNum: 1, Title: "Pilot", ContainerExtension: "mp4"},
				{ID: "102", SeasonNum: 1, EpisodeNum: 2, Title: "Second", ContainerExtension: "mp4"},
			},
		},
	}
	r := New(parser.XtreamCredentials{BaseURL: "http://p", Username: "u", Password: "p"}, fetcher, 0)

	items := []model.Item{{ProviderID: 7, ItemType: model.ItemSeriesInfo, InputName: "in1"}}
	episodes, collected, err := r.ResolveSeries(context.Background(), target, items)
	if err != nil {
		t.Fatalf("ResolveSeries: %v", err)
	}
	if len(collected) != 0 {
		t.Fatalf("unexpected errors: %v", collected)
	}
	if len(episodes) != 2 {
		t.Fatalf("expected 2 episode items, got %d", len(episodes))
	}
	if episodes[0].ParentProviderID != 7 {
		t.Fatalf("expected parent provider id 7, got %d", episodes[0].ParentProviderID)
	}
	if episodes[0].ItemType != model.ItemSeriesInfo {
		t.Fatalf("expected episode item type SeriesInfo, got %v", episodes[0].ItemType)
	}
}

func TestResolveVODCollectsFetchErrorsWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	target := VODTarget{
		InfoMainPath:    filepath.Join(dir, "vod_info.db"),
		InfoIndexPath:   filepath.Join(dir, "vod_info.idx"),
		RecordMainPath:  filepath.Join(dir, "vod_record.db"),
		RecordIndexPath: filepath.Join(dir, "vod_record.idx"),
	}
	fetcher := &fakeFetcher{vodLastModified: map[int]string{1: "t1", 2: "t2"}}
	r := New(parser.XtreamCredentials{}, fetcher, 0)

	items := []model.Item{
		{ProviderID: 1, ItemType: model.ItemVideo},
		{ProviderID: 2, ItemType: model.ItemVideo},
	}
	collected, err := r.ResolveVOD(context.Background(), target, items)
	if err != nil {
		t.Fatalf("ResolveVOD: %v", err)
	}
	if len(collected) != 0 {
		t.Fatalf("expected no errors for successful fetches, got %v", collected)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected both providers fetched, got %d calls", fetcher.calls)
	}
}

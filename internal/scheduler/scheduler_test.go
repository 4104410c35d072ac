package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/xtreamrelay/xtreamrelay/internal/config"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/provider"
)

const sampleM3U = `#EXTM3U
#EXTINF:-1 tvg-id="news1" tvg-chno="1" group-title="News",News One
http://upstream/news1.ts
#EXTINF:-1 tvg-id="sports1" group-title="Sports",Sports One
http://upstream/sports1.ts
`

func newTestConfig(t *testing.T, upstream string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		StorageDir: t.TempDir(),
		Inputs: []config.Input{
			{Name: "in1", Type: config.InputM3U, URL: upstream},
		},
		Targets: []config.Target{
			{Name: "t1", Inputs: []string{"in1"}},
		},
	}
	return cfg
}

func TestRunAllIngestsM3UIntoTargetStores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleM3U))
	}))
	defer srv.Close()

	cfg := newTestConfig(t, srv.URL)
	mgr := provider.NewManager(false)
	s, err := New(cfg, mgr, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	s.RunAll(context.Background())

	live, _, _, _, _, ok := s.Stores("t1")
	if !ok {
		t.Fatal("expected t1 stores to exist")
	}
	it, err := live.GetItemForStreamID(1)
	if err != nil {
		t.Fatalf("GetItemForStreamID(1): %v", err)
	}
	if it.Name == "" {
		t.Fatal("expected a named item at virtual id 1")
	}
}

func TestRunTargetFetchesOnlyItsOwnInputs(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(sampleM3U))
	}))
	defer srv.Close()

	cfg := newTestConfig(t, srv.URL)
	mgr := provider.NewManager(false)
	s, err := New(cfg, mgr, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.RunTarget(context.Background(), "t1"); err != nil {
		t.Fatalf("RunTarget: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected exactly 2 requests (probe + fetch), got %d", hits)
	}

	live, _, _, _, _, _ := s.Stores("t1")
	it, err := live.GetItemForStreamID(1)
	if err != nil {
		t.Fatalf("GetItemForStreamID(1): %v", err)
	}
	if it.Cluster != model.ClusterLive {
		t.Fatalf("expected live cluster item, got %v", it.Cluster)
	}
}

// xtreamFixture serves just enough of player_api.php for an end-to-end
// ingestion run: account probe, one VOD stream/category, one series
// stream/category, and their get_vod_info/get_series_info detail.
func xtreamFixture() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("action") {
		case "":
			_, _ = w.Write([]byte(`{"user_info":{"auth":1}}`))
		case "get_live_categories", "get_live_streams":
			_, _ = w.Write([]byte(`[]`))
		case "get_vod_categories":
			_, _ = w.Write([]byte(`[{"category_id":"1","category_name":"Movies"}]`))
		case "get_vod_streams":
			_, _ = w.Write([]byte(`[{"stream_id":"10","name":"Movie One","category_id":"1","container_extension":"mp4"}]`))
		case "get_series_categories":
			_, _ = w.Write([]byte(`[{"category_id":"2","category_name":"Shows"}]`))
		case "get_series":
			_, _ = w.Write([]byte(`[{"series_id":"20","name":"Show One","category_id":"2"}]`))
		case "get_vod_info":
			_, _ = w.Write([]byte(`{"info":{"last_modified":"1000","name":"Movie One"}}`))
		case "get_series_info":
			_, _ = w.Write([]byte(`{"info":{"last_modified":"2000","name":"Show One","category_id":"2"},
				"episodes":{"1":[{"id":"200","season_num":1,"episode_num":1,"title":"Pilot","container_extension":"mp4"}]}}`))
		default:
			http.Error(w, "unexpected action", http.StatusNotFound)
		}
	}
}

func TestRunTargetResolvesXtreamVODAndSeriesDetail(t *testing.T) {
	srv := httptest.NewServer(xtreamFixture())
	defer srv.Close()

	cfg := &config.Config{
		StorageDir: t.TempDir(),
		Inputs: []config.Input{
			{Name: "in1", Type: config.InputXtream, URL: srv.URL, Username: "u", Password: "p"},
		},
		Targets: []config.Target{
			{Name: "t1", Inputs: []string{"in1"}},
		},
	}
	mgr := provider.NewManager(false)
	s, err := New(cfg, mgr, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.RunTarget(context.Background(), "t1"); err != nil {
		t.Fatalf("RunTarget: %v", err)
	}

	_, _, series, vodInfo, seriesInfo, ok := s.Stores("t1")
	if !ok {
		t.Fatal("expected t1 stores to exist")
	}

	if _, err := vodInfo.LoadVODInfo(10, nil); err != nil {
		t.Fatalf("LoadVODInfo(10): %v", err)
	}
	if _, err := seriesInfo.LoadSeriesInfo(20, nil); err != nil {
		t.Fatalf("LoadSeriesInfo(20): %v", err)
	}

	var sawEpisode bool
	iter, err := series.LoadRewritePlaylist(func(it model.Item) string { return it.URL })
	if err != nil {
		t.Fatalf("LoadRewritePlaylist: %v", err)
	}
	defer iter.Close()
	for iter.HasNext() {
		it, err := iter.Next()
		if err != nil {
			t.Fatalf("iter.Next: %v", err)
		}
		if it.Title == "Pilot" {
			sawEpisode = true
		}
	}
	if !sawEpisode {
		t.Fatal("expected materialized episode item in series playlist")
	}
}

func TestRunTargetUnknownNameErrors(t *testing.T) {
	cfg := newTestConfig(t, "http://unused")
	mgr := provider.NewManager(false)
	s, err := New(cfg, mgr, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RunTarget(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

func newXtreamTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/player_api.php", func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		w.Header().Set("Content-Type", "application/json")
		switch action {
		case "get_live_categories":
			json.NewEncoder(w).Encode([]map[string]any{
				{"category_id": "1", "category_name": "News"},
			})
		case "get_live_streams":
			json.NewEncoder(w).Encode([]map[string]any{
				{"stream_id": 100, "name": "News HD", "category_id": "1", "epg_channel_id": "news.uk"},
			})
		case "get_vod_categories", "get_series_categories":
			json.NewEncoder(w).Encode([]map[string]any{})
		case "get_vod_streams", "get_series":
			json.NewEncoder(w).Encode([]map[string]any{})
		case "get_series_info":
			json.NewEncoder(w).Encode(map[string]any{
				"info": map[string]any{"last_modified": "1700000000"},
				"episodes": map[string]any{
					"1": []map[string]any{
						{"id": "501", "season_num": 1, "episode_num": 1, "title": "Pilot", "container_extension": "mp4"},
					},
				},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{})
		}
	})
	return httptest.NewServer(mux)
}

func TestFetchXtreamMergesCategoriesAndStreams(t *testing.T) {
	srv := newXtreamTestServer(t)
	defer srv.Close()

	creds := XtreamCredentials{BaseURL: srv.URL, Username: "u", Password: "p"}
	live, vod, series, err := FetchXtream(context.Background(), creds, "input1", 0, srv.Client())
	if err != nil {
		t.Fatalf("FetchXtream: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("got %d live items, want 1", len(live))
	}
	if live[0].Group != "News" {
		t.Fatalf("group = %q, want News (merged by category_id)", live[0].Group)
	}
	if live[0].ItemType != model.ItemLive {
		t.Fatalf("item type = %v, want Live", live[0].ItemType)
	}
	if live[0].Cluster != model.ClusterLive {
		t.Fatalf("cluster = %v, want Live", live[0].Cluster)
	}
	if !strings.Contains(live[0].URL, "/live/u/p/100") {
		t.Fatalf("url = %q", live[0].URL)
	}
	if len(vod) != 0 || len(series) != 0 {
		t.Fatalf("expected empty vod/series, got %d/%d", len(vod), len(series))
	}
}

func TestFetchSeriesInfoDecodesEpisodesFromMapOfSeasons(t *testing.T) {
	srv := newXtreamTestServer(t)
	defer srv.Close()

	creds := XtreamCredentials{BaseURL: srv.URL, Username: "u", Password: "p"}
	info, err := FetchSeriesInfo(context.Background(), creds, 1, srv.Client())
	if err != nil {
		t.Fatalf("FetchSeriesInfo: %v", err)
	}
	if info.LastModified != "1700000000" {
		t.Fatalf("last_modified = %q", info.LastModified)
	}
	if len(info.Episodes) != 1 {
		t.Fatalf("got %d episodes, want 1", len(info.Episodes))
	}
	ep := info.Episodes[0]
	if ep.ID != "501" || ep.SeasonNum != 1 || ep.EpisodeNum != 1 {
		t.Fatalf("unexpected episode: %+v", ep)
	}

	item := EpisodeToItem(ep, creds, "input1", "Show Title", 42, 3)
	if item.ParentProviderID != 42 {
		t.Fatalf("parent provider id = %d, want 42", item.ParentProviderID)
	}
	if item.ItemType != model.ItemSeriesInfo {
		t.Fatalf("item type = %v, want SeriesInfo", item.ItemType)
	}
}

package parser

import (
	"strings"
	"testing"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

const sampleM3U = `#EXTM3U
#EXTINF:-1 tvg-id="bbc1.uk" tvg-name="BBC One" tvg-logo="http://x/bbc1.png" group-title="UK",BBC One HD
http://provider.example/live/u/p/1.ts
#EXTINF:-1 tvg-id="" group-title="Movies",Some Movie
http://provider.example/movie/u/p/55.mp4
#EXTINF:-1 group-title="Sports",Sports HLS
http://provider.example/live/u/p/9.m3u8
`

func TestParseM3UReader(t *testing.T) {
	entries, err := ParseM3UReader(strings.NewReader(sampleM3U))
	if err != nil {
		t.Fatalf("ParseM3UReader: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Attrs["tvg-id"] != "bbc1.uk" {
		t.Fatalf("tvg-id = %q", entries[0].Attrs["tvg-id"])
	}
	if entries[0].Attrs["group-title"] != "UK" {
		t.Fatalf("group-title = %q", entries[0].Attrs["group-title"])
	}
	if entries[0].Display != "BBC One HD" {
		t.Fatalf("display = %q", entries[0].Display)
	}
	if entries[0].URL != "http://provider.example/live/u/p/1.ts" {
		t.Fatalf("url = %q", entries[0].URL)
	}
}

func TestToItemInfersHlsAndDash(t *testing.T) {
	entries, err := ParseM3UReader(strings.NewReader(sampleM3U))
	if err != nil {
		t.Fatalf("ParseM3UReader: %v", err)
	}
	hls := entries[2].ToItem("input1", 9)
	if hls.ItemType != model.ItemLiveHls {
		t.Fatalf("expected LiveHls, got %v", hls.ItemType)
	}
	if hls.Cluster != model.ClusterLive {
		t.Fatalf("expected ClusterLive, got %v", hls.Cluster)
	}
	dash := M3UEntry{Attrs: map[string]string{}, Display: "Dash", URL: "http://provider.example/live/u/p/10.mpd"}.ToItem("input1", 10)
	if dash.ItemType != model.ItemLiveDash {
		t.Fatalf("expected LiveDash, got %v", dash.ItemType)
	}
}

func TestToItemUUIDStable(t *testing.T) {
	entries, _ := ParseM3UReader(strings.NewReader(sampleM3U))
	a := entries[0].ToItem("input1", 1)
	b := entries[0].ToItem("input1", 1)
	if a.UUID != b.UUID {
		t.Fatal("expected identical UUID across repeated parses of the same entry")
	}
	c := entries[0].ToItem("input1", 2)
	if a.UUID == c.UUID {
		t.Fatal("expected different UUID for different provider id")
	}
}

func TestToItemLiveUnknownWithoutProviderID(t *testing.T) {
	entries, _ := ParseM3UReader(strings.NewReader(sampleM3U))
	it := entries[0].ToItem("input1", 0)
	if it.ItemType != model.ItemLiveUnknown {
		t.Fatalf("expected LiveUnknown for zero provider id, got %v", it.ItemType)
	}
}

// Package parser turns raw provider payloads (M3U text, Xtream JSON) into
// the unified model.Item stream, ported from m3u-filter's
// src/processing/parser/{m3u,xtream}.rs.
package parser

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/xtreamrelay/xtreamrelay/internal/httpclient"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// extAttrPattern-free hand tokenizer: #EXTINF lines carry `key="value"` pairs
// before the trailing `,display-name`. We scan case-insensitively.

// M3UEntry is one parsed #EXTINF/URL pair before item-type inference.
type M3UEntry struct {
	Attrs   map[string]string
	Display string
	URL     string
}

// FetchM3U retrieves and parses an M3U playlist from a URL. If client is
// nil, httpclient.Default() is used. Requests are retried on 429/5xx via
// httpclient.DefaultRetryPolicy since provider playlist endpoints can be
// just as rate-limited as the Xtream JSON API.
func FetchM3U(ctx context.Context, m3uURL string, client *http.Client) ([]M3UEntry, error) {
	if client == nil {
		client = httpclient.Default()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m3uURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "xtreamrelay/1.0")
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: m3uURL, status: resp.StatusCode}
	}
	return ParseM3UReader(resp.Body)
}

// ParseM3UReader streams #EXTINF/URL pairs out of r.
func ParseM3UReader(r io.Reader) ([]M3UEntry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	var entries []M3UEntry
	var pending *M3UEntry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			continue
		case strings.HasPrefix(line, "#EXTGRP:"):
			if pending != nil {
				pending.Attrs["group-title"] = strings.TrimSpace(strings.TrimPrefix(line, "#EXTGRP:"))
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			attrs, display := parseEXTINF(line)
			pending = &M3UEntry{Attrs: attrs, Display: display}
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if pending != nil {
				pending.URL = line
				entries = append(entries, *pending)
				pending = nil
			}
		}
	}
	return entries, sc.Err()
}

// parseEXTINF splits `#EXTINF:-1 key="value" key2="value2",Display Name` into
// its attribute map and trailing display name. Keys are lower-cased so
// lookups are case-insensitive, matching provider inconsistency in the wild.
// Only double-quoted values are read; the attribute scan stops at the first
// unquoted value.
func parseEXTINF(line string) (map[string]string, string) {
	body := strings.TrimPrefix(line, "#EXTINF:")
	attrs := make(map[string]string)

	commaIdx := findDisplayComma(body)
	var attrPart, display string
	if commaIdx >= 0 {
		attrPart = body[:commaIdx]
		display = strings.TrimSpace(body[commaIdx+1:])
	} else {
		attrPart = body
	}

	// attrPart begins with the duration, e.g. "-1 tvg-id=\"x\" group-title=\"y\""
	i := 0
	n := len(attrPart)
	for i < n && attrPart[i] != ' ' {
		i++
	}
	rest := attrPart[i:]

	for len(rest) > 0 {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(rest[:eq]))
		rest = rest[eq+1:]
		if rest == "" || rest[0] != '"' {
			break
		}
		rest = rest[1:]
		end := strings.IndexByte(rest, '"')
		if end < 0 {
			attrs[key] = rest
			break
		}
		attrs[key] = rest[:end]
		rest = rest[end+1:]
	}
	return attrs, display
}

// findDisplayComma finds the comma that separates attributes from the
// display name: the last comma not inside a quoted attribute value.
func findDisplayComma(s string) int {
	inQuotes := false
	last := -1
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				last = i
			}
		}
	}
	return last
}

// ToItem converts a parsed M3U entry into a model.Item. inputName identifies
// the source whose items are being built, used by the content UUID and by
// the Input field comparison in filters.
func (e M3UEntry) ToItem(inputName string, providerID uint32) model.Item {
	name := e.Display
	if name == "" {
		name = e.Attrs["tvg-name"]
	}
	it := model.Item{
		ProviderID:   providerID,
		Name:         name,
		Title:        name,
		Group:        e.Attrs["group-title"],
		Chno:         e.Attrs["tvg-chno"],
		Logo:         firstNonEmpty(e.Attrs["tvg-logo"], e.Attrs["logo"]),
		EpgChannelID: e.Attrs["tvg-id"],
		URL:          e.URL,
		InputName:    inputName,
		Cluster:      model.ClusterLive,
	}
	it.ItemType = InferItemType(model.ClusterLive, it.URL, it.ProviderID)
	it.Cluster = model.ClusterForType(it.ItemType)
	it.UUID = model.ContentUUID(it.InputName, it.ProviderID, it.ItemType, it.URL)
	return it
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// InferItemType assigns an ItemType from cluster and URL extension:
// ".m3u8" -> LiveHls, ".mpd" -> LiveDash, live without a provider id ->
// LiveUnknown.
func InferItemType(cluster model.Cluster, url string, providerID uint32) model.ItemType {
	switch cluster {
	case model.ClusterVideo:
		return model.ItemVideo
	case model.ClusterSeries:
		return model.ItemSeries
	default:
		lower := strings.ToLower(url)
		switch {
		case strings.Contains(lower, ".m3u8"):
			return model.ItemLiveHls
		case strings.Contains(lower, ".mpd"):
			return model.ItemLiveDash
		case providerID == 0:
			return model.ItemLiveUnknown
		default:
			return model.ItemLive
		}
	}
}

type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return "m3u: unexpected status " + strconv.Itoa(e.status) + " fetching " + e.url
}

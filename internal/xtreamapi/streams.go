package xtreamapi

import (
	"net/http"
	"strconv"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

// category is one bouquet-filterable listing entry.
type category struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"category_name"`
	ParentID   int    `json:"parent_id"`
}

// handleCategories scans a cluster's stored items for distinct category
// ids and names. The original keeps a precomputed category collection
// file per target; here the category set is derived directly from the
// item store at request time, which is simpler at the cost of a full
// scan per request.
func (s *Server) handleCategories(w http.ResponseWriter, target *Target, cred *model.Credential, cluster model.Cluster) {
	store := target.storeFor(cluster)
	if store == nil {
		writeEmptyList(w)
		return
	}
	it, err := store.LoadRewritePlaylist(nil)
	if err != nil {
		writeEmptyList(w)
		return
	}
	defer it.Close()

	seen := make(map[int]string)
	var order []int
	for it.HasNext() {
		item, err := it.Next()
		if err != nil {
			break
		}
		if !cred.Bouquet.Allows(cluster, item.CategoryID) {
			continue
		}
		if _, ok := seen[item.CategoryID]; !ok {
			seen[item.CategoryID] = item.Group
			order = append(order, item.CategoryID)
		}
	}

	out := make([]category, 0, len(order))
	for _, id := range order {
		out = append(out, category{CategoryID: strconv.Itoa(id), Name: seen[id]})
	}
	writeJSON(w, http.StatusOK, out)
}

// streamEntry is one listing row, covering the common fields shared by
// live/VOD/series listings. Cluster-specific extras
// (container_extension, rating, etc.) live in AdditionalProperties and
// are merged in at marshal time by streamEntryJSON.
type streamEntry struct {
	Num          int    `json:"num"`
	Name         string `json:"name"`
	StreamType   string `json:"stream_type"`
	StreamID     uint32 `json:"stream_id"`
	StreamIcon   string `json:"stream_icon,omitempty"`
	EPGChannelID string `json:"epg_channel_id,omitempty"`
	CategoryID   string `json:"category_id"`
	Added        string `json:"added,omitempty"`
	CustomSID    string `json:"custom_sid,omitempty"`
	TVArchive    int    `json:"tv_archive"`
	DirectSource string `json:"direct_source"`
}

func streamTypeFor(cluster model.Cluster) string {
	switch cluster {
	case model.ClusterVideo:
		return "movie"
	case model.ClusterSeries:
		return "series"
	default:
		return "live"
	}
}

// handleStreamsList lists every item of a cluster visible to the user's
// bouquet and optional category_id filter, rewriting each item's stream
// URL for the user's proxy mode.
func (s *Server) handleStreamsList(w http.ResponseWriter, r *http.Request, cred *model.Credential, target *Target, cluster model.Cluster) {
	store := target.storeFor(cluster)
	if store == nil {
		writeEmptyList(w)
		return
	}

	var categoryFilter *int
	if raw := formOrQuery(r, "category_id"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			categoryFilter = &n
		}
	}

	rewrite := func(item model.Item) string {
		if cred.ProxyMode == model.ProxyRedirect {
			return item.URL
		}
		return s.reverseStreamURL(cred.Username, cred.PasswordHash, cluster, item)
	}

	it, err := store.LoadRewritePlaylist(rewrite)
	if err != nil {
		writeEmptyList(w)
		return
	}
	defer it.Close()

	var out []streamEntry
	for it.HasNext() {
		item, err := it.Next()
		if err != nil {
			break
		}
		if cluster == model.ClusterSeries && item.ItemType == model.ItemSeriesInfo {
			// materialized episodes live in the same per-target series
			// store as show placeholders, but get_series should list
			// shows only; episode playback resolves by virtual id
			// directly, not through this listing.
			continue
		}
		if !cred.Bouquet.Allows(cluster, item.CategoryID) {
			continue
		}
		if categoryFilter != nil && item.CategoryID != *categoryFilter {
			continue
		}
		out = append(out, streamEntry{
			Num:          int(item.VirtualID),
			Name:         item.Name,
			StreamType:   streamTypeFor(cluster),
			StreamID:     item.VirtualID,
			StreamIcon:   item.Logo,
			EPGChannelID: item.EpgChannelID,
			CategoryID:   strconv.Itoa(item.CategoryID),
			DirectSource: item.URL,
		})
	}
	if out == nil {
		writeEmptyList(w)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// reverseStreamURL builds the URL a reverse-proxy client should request
// from this server for a given stored item, preserving the original
// file extension.
func (s *Server) reverseStreamURL(username, password string, cluster model.Cluster, item model.Item) string {
	ctx := streamTypeFor(cluster)
	if cluster == model.ClusterLive {
		ctx = "live"
	}
	return s.BaseURL + "/" + ctx + "/" + username + "/" + password + "/" + strconv.FormatUint(uint64(item.VirtualID), 10) + extensionOf(item.URL)
}

func extensionOf(u string) string {
	for i := len(u) - 1; i >= 0; i-- {
		switch u[i] {
		case '.':
			return u[i:]
		case '/':
			return ""
		}
	}
	return ""
}

func (s *Server) handleInfo(w http.ResponseWriter, cred *model.Credential, target *Target, rawID string, cluster model.Cluster) {
	virtualID, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	store := target.storeFor(cluster)
	if store == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	item, err := store.GetItemForStreamID(uint32(virtualID))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	var rewrite func(string) string
	if cred.ProxyMode != model.ProxyRedirect {
		rewrite = func(string) string { return s.reverseResourceURL(cred.Username, cred.PasswordHash, item) }
	}

	var doc map[string]any
	if cluster == model.ClusterVideo {
		doc, err = target.VODInfo.LoadVODInfo(item.ProviderID, rewrite)
	} else {
		doc, err = target.SeriesInfo.LoadSeriesInfo(item.ProviderID, rewrite)
	}
	if err != nil || doc == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// reverseResourceURL builds the URL used for a VOD/series resource field
// (movie_image, backdrop_path, direct_source) when serving a reverse-proxy
// user.
func (s *Server) reverseResourceURL(username, password string, item model.Item) string {
	ctx := streamTypeFor(item.Cluster)
	return s.BaseURL + "/resource/" + ctx + "/" + username + "/" + password + "/" +
		strconv.FormatUint(uint64(item.VirtualID), 10) + "/image"
}

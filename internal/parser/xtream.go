package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xtreamrelay/xtreamrelay/internal/httpclient"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

// XtreamCredentials addresses one upstream provider's player_api.
type XtreamCredentials struct {
	BaseURL  string
	Username string
	Password string
}

func (c XtreamCredentials) apiURL(action string) string {
	u := strings.TrimSuffix(c.BaseURL, "/") + "/player_api.php?username=" +
		url.QueryEscape(c.Username) + "&password=" + url.QueryEscape(c.Password)
	if action != "" {
		u += "&action=" + action
	}
	return u
}

// rawCategory mirrors the {category_id, category_name, parent_id} shape
// shared by get_live_categories/get_vod_categories/get_series_categories.
type rawCategory struct {
	CategoryID   jsonString `json:"category_id"`
	CategoryName string     `json:"category_name"`
}

// jsonString decodes a field that providers inconsistently send as either a
// JSON string or a JSON number.
type jsonString string

func (s *jsonString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = jsonString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = jsonString(n.String())
	return nil
}

type rawStream struct {
	StreamID           jsonString             `json:"stream_id"`
	SeriesID           jsonString             `json:"series_id"`
	Name               string                 `json:"name"`
	Num                jsonString             `json:"num"`
	StreamIcon         string                 `json:"stream_icon"`
	Cover              string                 `json:"cover"`
	EpgChannelID       string                 `json:"epg_channel_id"`
	CategoryID         jsonString             `json:"category_id"`
	ContainerExtension string                 `json:"container_extension"`
	Added              string                 `json:"added"`
	ReleaseDate        string                 `json:"releaseDate"`
	Rest               map[string]interface{} `json:"-"`
}

// FetchXtream pulls categories + streams for one cluster from an Xtream
// player_api and merges them into model.Items, stamping category_id and
// cluster. client may be nil.
func FetchXtream(ctx context.Context, creds XtreamCredentials, inputName string, providerIDBase uint32, client *http.Client) (live, vod, series []model.Item, err error) {
	if client == nil {
		client = httpclient.Default()
	}
	live, err = fetchCluster(ctx, creds, inputName, "get_live_categories", "get_live_streams", model.ClusterLive, client)
	if err != nil {
		return nil, nil, nil, err
	}
	vod, err = fetchCluster(ctx, creds, inputName, "get_vod_categories", "get_vod_streams", model.ClusterVideo, client)
	if err != nil {
		return nil, nil, nil, err
	}
	series, err = fetchCluster(ctx, creds, inputName, "get_series_categories", "get_series", model.ClusterSeries, client)
	if err != nil {
		return nil, nil, nil, err
	}
	return live, vod, series, nil
}

func fetchCluster(ctx context.Context, creds XtreamCredentials, inputName, categoryAction, streamAction string, cluster model.Cluster, client *http.Client) ([]model.Item, error) {
	cats, err := fetchCategories(ctx, creds, categoryAction, client)
	if err != nil {
		return nil, err
	}
	catNames := make(map[int]string, len(cats))
	for _, c := range cats {
		id, _ := strconv.Atoi(string(c.CategoryID))
		catNames[id] = c.CategoryName
	}

	raw, err := fetchStreams(ctx, creds, streamAction, client)
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(raw))
	for _, r := range raw {
		items = append(items, buildItem(r, creds, inputName, cluster, catNames))
	}
	return items, nil
}

func fetchCategories(ctx context.Context, creds XtreamCredentials, action string, client *http.Client) ([]rawCategory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.apiURL(action), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "xtreamrelay/1.0")
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.ProviderRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: req.URL.String(), status: resp.StatusCode}
	}
	var cats []rawCategory
	if err := json.NewDecoder(resp.Body).Decode(&cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func fetchStreams(ctx context.Context, creds XtreamCredentials, action string, client *http.Client) ([]rawStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, creds.apiURL(action), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "xtreamrelay/1.0")
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.ProviderRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{url: req.URL.String(), status: resp.StatusCode}
	}
	var raw []rawStream
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func buildItem(r rawStream, creds XtreamCredentials, inputName string, cluster model.Cluster, catNames map[int]string) model.Item {
	providerID := r.StreamID
	if providerID == "" {
		providerID = r.SeriesID
	}
	pid, _ := strconv.Atoi(string(providerID))
	catID, _ := strconv.Atoi(string(r.CategoryID))

	streamURL := buildStreamURL(creds, cluster, pid, r.ContainerExtension)
	itemType := clusterItemType(cluster)

	logo := firstNonEmpty(r.StreamIcon, r.Cover)
	year := yearFromDate(firstNonEmpty(r.Added, r.ReleaseDate))

	props := map[string]any{}
	if r.ContainerExtension != "" {
		props["container_extension"] = r.ContainerExtension
	}
	if year > 0 {
		props["release_date"] = firstNonEmpty(r.Added, r.ReleaseDate)
	}

	it := model.Item{
		ProviderID:   uint32(pid),
		Name:         r.Name,
		Title:        r.Name,
		Group:        catNames[catID],
		Logo:         logo,
		EpgChannelID: r.EpgChannelID,
		URL:          streamURL,
		ItemType:     itemType,
		Cluster:      cluster,
		CategoryID:   catID,
		InputName:    inputName,
		AdditionalProperties: props,
	}
	if cluster == model.ClusterLive {
		it.ItemType = InferItemType(cluster, streamURL, it.ProviderID)
	}
	it.UUID = model.ContentUUID(it.InputName, it.ProviderID, it.ItemType, it.URL)
	return it
}

func clusterItemType(c model.Cluster) model.ItemType {
	switch c {
	case model.ClusterVideo:
		return model.ItemVideo
	case model.ClusterSeries:
		return model.ItemSeries
	default:
		return model.ItemLive
	}
}

func buildStreamURL(creds XtreamCredentials, cluster model.Cluster, providerID int, ext string) string {
	base := strings.TrimSuffix(creds.BaseURL, "/")
	id := strconv.Itoa(providerID)
	switch cluster {
	case model.ClusterVideo:
		if ext == "" {
			ext = "mp4"
		}
		return base + "/movie/" + creds.Username + "/" + creds.Password + "/" + id + "." + ext
	case model.ClusterSeries:
		// series entries resolve to per-episode URLs later via get_series_info;
		// this URL addresses the series root for UUID stability.
		return base + "/series/" + creds.Username + "/" + creds.Password + "/" + id
	default:
		return base + "/live/" + creds.Username + "/" + creds.Password + "/" + id + ".ts"
	}
}

func yearFromDate(s string) int {
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0
	}
	return y
}

// SeriesEpisode is one episode out of get_series_info, as consumed by the
// resolver.
type SeriesEpisode struct {
	ID                 string
	SeasonNum          int
	EpisodeNum         int
	Title              string
	ContainerExtension string
	Airdate            string
}

// SeriesInfo is the decoded get_series_info response body, retaining
// last_modified for the resolver's staleness check.
type SeriesInfo struct {
	LastModified string
	SeriesTitle  string
	CategoryID   int
	Episodes     []SeriesEpisode
	Raw          map[string]interface{}
}

// FetchVODInfo calls get_vod_info for one movie provider id, returning the
// raw response body and its embedded last_modified timestamp.
func FetchVODInfo(ctx context.Context, creds XtreamCredentials, vodID int, client *http.Client) (raw map[string]interface{}, lastModified string, err error) {
	if client == nil {
		client = httpclient.Default()
	}
	u := creds.apiURL("get_vod_info") + "&vod_id=" + strconv.Itoa(vodID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "xtreamrelay/1.0")
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.ProviderRetryPolicy)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", &statusError{url: u, status: resp.StatusCode}
	}
	raw = map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, "", err
	}
	if info, ok := raw["info"].(map[string]interface{}); ok {
		lastModified = toStr(info["last_modified"])
	}
	return raw, lastModified, nil
}

// FetchSeriesInfo calls get_series_info for one series provider id.
func FetchSeriesInfo(ctx context.Context, creds XtreamCredentials, seriesID int, client *http.Client) (SeriesInfo, error) {
	if client == nil {
		client = httpclient.Default()
	}
	u := creds.apiURL("get_series_info") + "&series_id=" + strconv.Itoa(seriesID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return SeriesInfo{}, err
	}
	req.Header.Set("User-Agent", "xtreamrelay/1.0")
	resp, err := httpclient.DoWithRetry(ctx, client, req, httpclient.ProviderRetryPolicy)
	if err != nil {
		return SeriesInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SeriesInfo{}, &statusError{url: u, status: resp.StatusCode}
	}
	raw := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return SeriesInfo{}, err
	}
	lastModified, seriesTitle, categoryID := "", "", 0
	if info, ok := raw["info"].(map[string]interface{}); ok {
		lastModified = toStr(info["last_modified"])
		seriesTitle = toStr(info["name"])
		categoryID = toInt(info["category_id"])
	}
	eps := decodeEpisodes(raw["episodes"])
	return SeriesInfo{LastModified: lastModified, SeriesTitle: seriesTitle, CategoryID: categoryID, Episodes: eps, Raw: raw}, nil
}

func decodeEpisodes(v interface{}) []SeriesEpisode {
	var out []SeriesEpisode
	appendOne := func(m map[string]interface{}) {
		out = append(out, SeriesEpisode{
			ID:                 toStr(m["id"]),
			SeasonNum:          toInt(m["season_num"]),
			EpisodeNum:         toInt(m["episode_num"]),
			Title:              toStr(m["title"]),
			ContainerExtension: toStr(m["container_extension"]),
			Airdate:            toStr(m["releaseDate"]),
		})
	}
	switch x := v.(type) {
	case map[string]interface{}:
		for _, seasonList := range x {
			if arr, ok := seasonList.([]interface{}); ok {
				for _, e := range arr {
					if m, ok := e.(map[string]interface{}); ok {
						appendOne(m)
					}
				}
			}
		}
	case []interface{}:
		for _, e := range x {
			if m, ok := e.(map[string]interface{}); ok {
				appendOne(m)
			}
		}
	}
	return out
}

func toStr(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt(v interface{}) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case json.Number:
		n, _ := x.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(x)
		return n
	default:
		return 0
	}
}

// EpisodeToItem builds a model.Item for one series episode, keyed under the
// owning series' provider id as ParentProviderID.
func EpisodeToItem(ep SeriesEpisode, creds XtreamCredentials, inputName string, seriesTitle string, parentProviderID uint32, categoryID int) model.Item {
	pid, _ := strconv.Atoi(ep.ID)
	ext := ep.ContainerExtension
	if ext == "" {
		ext = "mp4"
	}
	base := strings.TrimSuffix(creds.BaseURL, "/")
	streamURL := base + "/series/" + creds.Username + "/" + creds.Password + "/" + ep.ID + "." + ext
	it := model.Item{
		ProviderID:       uint32(pid),
		ParentProviderID: parentProviderID,
		Name:             seriesTitle,
		Title:            ep.Title,
		URL:              streamURL,
		ItemType:         model.ItemSeriesInfo,
		Cluster:          model.ClusterSeries,
		CategoryID:       categoryID,
		InputName:        inputName,
		AdditionalProperties: map[string]any{
			"season_num":          ep.SeasonNum,
			"episode_num":         ep.EpisodeNum,
			"container_extension": ext,
		},
	}
	it.UUID = model.ContentUUID(it.InputName, it.ProviderID, it.ItemType, it.URL)
	return it
}

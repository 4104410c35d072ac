package xtreamapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/provider"
	"github.com/xtreamrelay/xtreamrelay/internal/repository"
)

type fakeUsers struct {
	creds  map[string]*model.Credential
	target string
	conns  map[string]int
}

func (f *fakeUsers) Authenticate(username, password string) (*model.Credential, bool) {
	c, ok := f.creds[username]
	if !ok || c.PasswordHash != password {
		return nil, false
	}
	return c, true
}

func (f *fakeUsers) TargetName(string) string { return f.target }

func (f *fakeUsers) ActiveConnections(username string) int {
	if f.conns == nil {
		return 0
	}
	return f.conns[username]
}

func (f *fakeUsers) Acquire(username string) bool {
	if f.conns == nil {
		f.conns = make(map[string]int)
	}
	cred, ok := f.creds[username]
	if ok && cred.MaxConnections > 0 && f.conns[username] >= cred.MaxConnections {
		return false
	}
	f.conns[username]++
	return true
}

func (f *fakeUsers) Release(username string) {
	if f.conns[username] > 0 {
		f.conns[username]--
	}
}

type fakeInputs struct{ inputs map[string]Input }

func (f *fakeInputs) InputByName(name string) (Input, bool) {
	i, ok := f.inputs[name]
	return i, ok
}

func newTestTarget(t *testing.T) *Target {
	t.Helper()
	dir := t.TempDir()
	live, err := repository.OpenPlaylistStore(filepath.Join(dir, "live.db"), filepath.Join(dir, "live.idx"))
	if err != nil {
		t.Fatalf("OpenPlaylistStore live: %v", err)
	}
	video, err := repository.OpenPlaylistStore(filepath.Join(dir, "video.db"), filepath.Join(dir, "video.idx"))
	if err != nil {
		t.Fatalf("OpenPlaylistStore video: %v", err)
	}
	vodInfo, err := repository.OpenInfoStore(filepath.Join(dir, "vodinfo.db"), filepath.Join(dir, "vodinfo.idx"))
	if err != nil {
		t.Fatalf("OpenInfoStore: %v", err)
	}
	return &Target{Name: "t1", Live: live, Video: video, VODInfo: vodInfo}
}

func mustWriteLiveItems(t *testing.T, target *Target, items []model.Item) {
	t.Helper()
	if err := target.Live.WritePlaylist(items); err != nil {
		t.Fatalf("WritePlaylist: %v", err)
	}
}

func testServer(t *testing.T, target *Target, cred *model.Credential) *Server {
	t.Helper()
	return &Server{
		Targets: map[string]*Target{"t1": target},
		Users:   &fakeUsers{creds: map[string]*model.Credential{cred.Username: cred}, target: "t1"},
		Inputs:  &fakeInputs{inputs: map[string]Input{}},
		Providers: func() *provider.Manager {
			m := provider.NewManager(false)
			m.AddLineup("t1", provider.NewLineup(provider.Config{ID: 1, Name: "p1", MaxConnections: 5, Priority: 1}))
			return m
		}(),
		BaseURL: "http://relay.example",
	}
}

func TestSeparateNumberAndRemainder(t *testing.T) {
	num, ext := separateNumberAndRemainder("41231.ts")
	if num != "41231" || ext != ".ts" {
		t.Fatalf("got %q %q", num, ext)
	}
	num, ext = separateNumberAndRemainder("99")
	if num != "99" || ext != "" {
		t.Fatalf("got %q %q", num, ext)
	}
}

func TestHandlePlayerAPIRejectsBadCredentials(t *testing.T) {
	target := newTestTarget(t)
	cred := &model.Credential{Username: "u1", PasswordHash: "secret", Status: model.StatusActive}
	s := testServer(t, target, cred)

	req := httptest.NewRequest(http.MethodGet, "/player_api.php?username=u1&password=wrong", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandlePlayerAPIAccountInfoWhenActionEmpty(t *testing.T) {
	target := newTestTarget(t)
	cred := &model.Credential{Username: "u1", PasswordHash: "secret", Status: model.StatusActive, MaxConnections: 3, CreatedAt: time.Unix(1000, 0)}
	s := testServer(t, target, cred)

	req := httptest.NewRequest(http.MethodGet, "/player_api.php?username=u1&password=secret", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got accountInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserInfo.Username != "u1" {
		t.Fatalf("username = %q", got.UserInfo.Username)
	}
	if got.UserInfo.MaxConnections != "3" {
		t.Fatalf("max_connections = %q", got.UserInfo.MaxConnections)
	}
}

func TestGetLiveStreamsFiltersByBouquetAndRewritesURL(t *testing.T) {
	target := newTestTarget(t)
	items := []model.Item{
		{VirtualID: 1, Name: "Allowed", URL: "http://p/1.ts", ItemType: model.ItemLive, Cluster: model.ClusterLive, CategoryID: 10, InputName: "in1"},
		{VirtualID: 2, Name: "Blocked", URL: "http://p/2.ts", ItemType: model.ItemLive, Cluster: model.ClusterLive, CategoryID: 20, InputName: "in1"},
	}
	for i := range items {
		items[i].UUID = model.ContentUUID(items[i].InputName, items[i].ProviderID, items[i].ItemType, items[i].URL)
	}
	mustWriteLiveItems(t, target, items)

	cred := &model.Credential{
		Username: "u1", PasswordHash: "secret", Status: model.StatusActive,
		ProxyMode: model.ProxyReverse,
		Bouquet:   &model.Bouquet{Live: []int{10}},
	}
	s := testServer(t, target, cred)

	req := httptest.NewRequest(http.MethodGet, "/player_api.php?username=u1&password=secret&action=get_live_streams", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got []streamEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 allowed stream, got %d: %+v", len(got), got)
	}
	if got[0].Name != "Allowed" {
		t.Fatalf("name = %q", got[0].Name)
	}
	if got[0].DirectSource != "http://relay.example/live/u1/secret/1.ts" {
		t.Fatalf("direct_source (rewritten URL) = %q", got[0].DirectSource)
	}
}

func TestGetLiveCategoriesReturnsDistinctCategories(t *testing.T) {
	target := newTestTarget(t)
	items := []model.Item{
		{VirtualID: 1, Name: "A", Group: "News", URL: "http://p/1.ts", ItemType: model.ItemLive, Cluster: model.ClusterLive, CategoryID: 1, InputName: "in1"},
		{VirtualID: 2, Name: "B", Group: "News", URL: "http://p/2.ts", ItemType: model.ItemLive, Cluster: model.ClusterLive, CategoryID: 1, InputName: "in1"},
		{VirtualID: 3, Name: "C", Group: "Sports", URL: "http://p/3.ts", ItemType: model.ItemLive, Cluster: model.ClusterLive, CategoryID: 2, InputName: "in1"},
	}
	for i := range items {
		items[i].UUID = model.ContentUUID(items[i].InputName, items[i].ProviderID, items[i].ItemType, items[i].URL)
	}
	mustWriteLiveItems(t, target, items)

	cred := &model.Credential{Username: "u1", PasswordHash: "secret", Status: model.StatusActive}
	s := testServer(t, target, cred)

	req := httptest.NewRequest(http.MethodGet, "/player_api.php?username=u1&password=secret&action=get_live_categories", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var got []category
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 distinct categories, got %d: %+v", len(got), got)
	}
}

func TestGetSeriesListsShowsOnlyNotMaterializedEpisodes(t *testing.T) {
	dir := t.TempDir()
	series, err := repository.OpenPlaylistStore(filepath.Join(dir, "series.db"), filepath.Join(dir, "series.idx"))
	if err != nil {
		t.Fatalf("OpenPlaylistStore series: %v", err)
	}
	target := &Target{Name: "t1", Series: series}

	items := []model.Item{
		{VirtualID: 1, Name: "Show One", Title: "Show One", URL: "http://p/show1", ItemType: model.ItemSeries, Cluster: model.ClusterSeries, CategoryID: 1, InputName: "in1"},
		{VirtualID: 2, Name: "Show One", Title: "Pilot", URL: "http://p/ep1", ItemType: model.ItemSeriesInfo, Cluster: model.ClusterSeries, CategoryID: 1, InputName: "in1"},
	}
	for i := range items {
		items[i].UUID = model.ContentUUID(items[i].InputName, items[i].ProviderID, items[i].ItemType, items[i].URL)
	}
	if err := target.Series.WritePlaylist(items); err != nil {
		t.Fatalf("WritePlaylist: %v", err)
	}

	cred := &model.Credential{Username: "u1", PasswordHash: "secret", Status: model.StatusActive}
	s := testServer(t, target, cred)

	req := httptest.NewRequest(http.MethodGet, "/player_api.php?username=u1&password=secret&action=get_series", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var got []streamEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v body=%s", err, rec.Body.String())
	}
	if len(got) != 1 {
		t.Fatalf("expected only the show placeholder to be listed, got %d: %+v", len(got), got)
	}
	if got[0].Name != "Show One" {
		t.Fatalf("name = %q", got[0].Name)
	}
}

func TestHandleStreamRedirectsForRedirectProxyMode(t *testing.T) {
	target := newTestTarget(t)
	item := model.Item{VirtualID: 5, Name: "Ch", URL: "http://upstream/live/u/p/5.ts", ItemType: model.ItemLive, Cluster: model.ClusterLive, InputName: "in1"}
	item.UUID = model.ContentUUID(item.InputName, item.ProviderID, item.ItemType, item.URL)
	mustWriteLiveItems(t, target, []model.Item{item})

	cred := &model.Credential{Username: "u1", PasswordHash: "secret", Status: model.StatusActive, ProxyMode: model.ProxyRedirect}
	s := testServer(t, target, cred)

	req := httptest.NewRequest(http.MethodGet, "/live/u1/secret/5.ts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != item.URL {
		t.Fatalf("Location = %q", loc)
	}
}

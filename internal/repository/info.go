package repository

import (
	"encoding/json"

	"github.com/xtreamrelay/xtreamrelay/internal/store"
)

// InfoStore persists the raw VOD/series detail JSON returned by an
// upstream provider, keyed by provider id, and rewrites embedded stream
// URLs to point back at this system for reverse-proxy users.
type InfoStore struct {
	mainPath, indexPath string
	writer              *store.Writer
}

func OpenInfoStore(mainPath, indexPath string) (*InfoStore, error) {
	w, err := store.OpenWriter(mainPath, indexPath, true)
	if err != nil {
		return nil, err
	}
	return &InfoStore{mainPath: mainPath, indexPath: indexPath, writer: w}, nil
}

func (s *InfoStore) Close() error { return s.writer.Close() }

// WriteAndGetVODInfo persists raw (the provider's get_vod_info response,
// already decoded into a generic map) under providerID, rewrites every
// stream URL and normalized backdrop_path entry via rewrite, and returns
// the rewritten document.
func (s *InfoStore) WriteAndGetVODInfo(providerID uint32, raw map[string]any, rewrite func(string) string) (map[string]any, error) {
	return s.writeAndGet(providerID, raw, rewrite)
}

// WriteAndGetSeriesInfo is the series-cluster analogue of
// WriteAndGetVODInfo.
func (s *InfoStore) WriteAndGetSeriesInfo(providerID uint32, raw map[string]any, rewrite func(string) string) (map[string]any, error) {
	return s.writeAndGet(providerID, raw, rewrite)
}

func (s *InfoStore) writeAndGet(providerID uint32, raw map[string]any, rewrite func(string) string) (map[string]any, error) {
	persisted, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := s.writer.WriteDoc(providerID, persisted); err != nil {
		return nil, err
	}
	if err := s.writer.Store(); err != nil {
		return nil, err
	}
	if rewrite == nil {
		return raw, nil
	}
	return rewriteInfoDocument(raw, rewrite), nil
}

// LoadVODInfo/LoadSeriesInfo read the persisted document for providerID
// and, if rewrite is non-nil (reverse-proxy user), rewrite its URLs;
// redirect users get the stored document unchanged.
func (s *InfoStore) LoadVODInfo(providerID uint32, rewrite func(string) string) (map[string]any, error) {
	return s.load(providerID, rewrite)
}

func (s *InfoStore) LoadSeriesInfo(providerID uint32, rewrite func(string) string) (map[string]any, error) {
	return s.load(providerID, rewrite)
}

func (s *InfoStore) load(providerID uint32, rewrite func(string) string) (map[string]any, error) {
	buf, err := store.ReadIndexedItem(s.mainPath, s.indexPath, providerID)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, err
	}
	if rewrite == nil {
		return raw, nil
	}
	return rewriteInfoDocument(raw, rewrite), nil
}

// rewriteInfoDocument walks known URL-bearing fields of a get_vod_info /
// get_series_info document and rewrites them, normalizing backdrop_path
// (string or array) to an array on output so `backdrop_path_N` indexing
// stays stable for callers.
func rewriteInfoDocument(raw map[string]any, rewrite func(string) string) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	if info, ok := out["info"].(map[string]any); ok {
		rewritten := make(map[string]any, len(info))
		for k, v := range info {
			rewritten[k] = v
		}
		if mu, ok := rewritten["movie_image"].(string); ok && mu != "" {
			rewritten["movie_image"] = rewrite(mu)
		}
		rewritten["backdrop_path"] = normalizeBackdropPaths(rewritten["backdrop_path"], rewrite)
		out["info"] = rewritten
	}

	if movieData, ok := out["movie_data"].(map[string]any); ok {
		rewritten := make(map[string]any, len(movieData))
		for k, v := range movieData {
			rewritten[k] = v
		}
		if direct, ok := rewritten["direct_source"].(string); ok && direct != "" {
			rewritten["direct_source"] = rewrite(direct)
		}
		out["movie_data"] = rewritten
	}

	if episodes, ok := out["episodes"].(map[string]any); ok {
		rewrittenSeasons := make(map[string]any, len(episodes))
		for season, list := range episodes {
			arr, ok := list.([]any)
			if !ok {
				rewrittenSeasons[season] = list
				continue
			}
			newArr := make([]any, len(arr))
			for i, ep := range arr {
				m, ok := ep.(map[string]any)
				if !ok {
					newArr[i] = ep
					continue
				}
				epCopy := make(map[string]any, len(m))
				for k, v := range m {
					epCopy[k] = v
				}
				if epData, ok := epCopy["info"].(map[string]any); ok {
					infoCopy := make(map[string]any, len(epData))
					for k, v := range epData {
						infoCopy[k] = v
					}
					infoCopy["backdrop_path"] = normalizeBackdropPaths(infoCopy["backdrop_path"], rewrite)
					epCopy["info"] = infoCopy
				}
				newArr[i] = epCopy
			}
			rewrittenSeasons[season] = newArr
		}
		out["episodes"] = rewrittenSeasons
	}

	return out
}

// normalizeBackdropPaths accepts the raw JSON value of backdrop_path
// (string, []string, []any, or nil), rewrites each entry, and always
// returns a []string so indexed access (backdrop_path_N) is stable.
func normalizeBackdropPaths(v any, rewrite func(string) string) []string {
	var paths []string
	switch x := v.(type) {
	case string:
		if x != "" {
			paths = []string{x}
		}
	case []any:
		for _, e := range x {
			if s, ok := e.(string); ok && s != "" {
				paths = append(paths, s)
			}
		}
	case []string:
		paths = x
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = rewrite(p)
	}
	return out
}

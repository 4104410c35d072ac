// Package resolver implements deferred fetch-and-persist of Xtream VOD
// and series detail, grounded on the WAL-staged merge
// pattern of m3u-filter's src/processing/processor/xtream_series.rs.
package resolver

import (
	"encoding/json"

	"github.com/xtreamrelay/xtreamrelay/internal/store"
)

// recordEntry is the persisted last_modified watermark for one provider
// id, used to decide whether a placeholder's detail needs refetching.
type recordEntry struct {
	ProviderID   uint32 `json:"provider_id"`
	LastModified string `json:"last_modified"`
}

// RecordStore tracks, per provider id, the last_modified value already
// persisted for its detail document.
type RecordStore struct {
	mainPath, indexPath string
	known               map[uint32]string
}

// OpenRecordStore loads the existing record collection, tolerating a
// missing store as "nothing resolved yet".
func OpenRecordStore(mainPath, indexPath string) (*RecordStore, error) {
	rs := &RecordStore{mainPath: mainPath, indexPath: indexPath, known: make(map[uint32]string)}
	reader, err := store.OpenReader(mainPath, indexPath)
	if err != nil {
		return rs, nil
	}
	defer reader.Close()
	for reader.HasNext() {
		buf, err := reader.Next()
		if err != nil {
			return nil, err
		}
		var rec recordEntry
		if err := json.Unmarshal(buf, &rec); err != nil {
			return nil, err
		}
		rs.known[rec.ProviderID] = rec.LastModified
	}
	return rs, nil
}

// NeedsUpdate reports whether providerID is absent from the record store
// or its stored last_modified disagrees with lastModified: absent or
// stale (timestamp mismatch).
func (rs *RecordStore) NeedsUpdate(providerID uint32, lastModified string) bool {
	have, ok := rs.known[providerID]
	return !ok || have != lastModified
}

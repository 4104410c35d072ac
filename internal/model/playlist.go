// Package model holds the unified playlist data types shared by the
// parsers, pipeline, resolver and repository. It is the Go analogue of
// m3u-filter's src/model/playlist.rs.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ItemType is the media kind a playlist item was parsed or inferred as.
type ItemType int

const (
	ItemUnknown ItemType = iota
	ItemLive
	ItemLiveHls
	ItemLiveDash
	ItemLiveUnknown
	ItemVideo
	ItemSeries
	ItemSeriesInfo
	ItemCatchup
)

func (t ItemType) String() string {
	switch t {
	case ItemLive:
		return "live"
	case ItemLiveHls:
		return "live_hls"
	case ItemLiveDash:
		return "live_dash"
	case ItemLiveUnknown:
		return "live_unknown"
	case ItemVideo:
		return "video"
	case ItemSeries:
		return "series"
	case ItemSeriesInfo:
		return "series_info"
	case ItemCatchup:
		return "catchup"
	default:
		return "unknown"
	}
}

// Cluster is the top-level Xtream partitioning of an item.
type Cluster int

const (
	ClusterLive Cluster = iota
	ClusterVideo
	ClusterSeries
)

func (c Cluster) String() string {
	switch c {
	case ClusterVideo:
		return "video"
	case ClusterSeries:
		return "series"
	default:
		return "live"
	}
}

// ClusterForType returns the cluster an ItemType belongs to, matching the
// type=series comparison's special case of also accepting SeriesInfo.
func ClusterForType(t ItemType) Cluster {
	switch t {
	case ItemVideo:
		return ClusterVideo
	case ItemSeries, ItemSeriesInfo:
		return ClusterSeries
	default:
		return ClusterLive
	}
}

// Item is the unified channel/VOD/series record produced by a parser and
// carried through the pipeline.
type Item struct {
	VirtualID         uint32
	ProviderID        uint32
	ParentProviderID   uint32 // for series episodes: the owning series' provider id
	UUID              [32]byte

	Name         string
	Title        string
	Group        string
	Chno         string
	Logo         string
	EpgChannelID string
	ParentCode   string
	AudioTrack   string
	TimeShift    string
	Rec          string

	URL string

	ItemType ItemType
	Cluster  Cluster

	CategoryID int

	// AdditionalProperties carries free-form extension fields such as
	// container_extension, release_date, tmdb_id, backdrop_path.
	AdditionalProperties map[string]any

	InputName string
}

// Field identifies a closed set of filterable/renameable/mappable fields,
// tagged by enum rather than by dynamic string lookup.
type Field int

const (
	FieldGroup Field = iota
	FieldTitle
	FieldName
	FieldURL
	FieldInput
	FieldType
)

func ParseField(s string) (Field, bool) {
	switch s {
	case "group", "Group":
		return FieldGroup, true
	case "title", "Title":
		return FieldTitle, true
	case "name", "Name":
		return FieldName, true
	case "url", "Url", "URL":
		return FieldURL, true
	case "input", "Input":
		return FieldInput, true
	case "type", "Type":
		return FieldType, true
	default:
		return 0, false
	}
}

func (f Field) String() string {
	switch f {
	case FieldGroup:
		return "Group"
	case FieldTitle:
		return "Title"
	case FieldName:
		return "Name"
	case FieldURL:
		return "Url"
	case FieldInput:
		return "Input"
	case FieldType:
		return "Type"
	default:
		return "?"
	}
}

// Value reads the named field off the item.
func (it *Item) Value(f Field) string {
	switch f {
	case FieldGroup:
		return it.Group
	case FieldTitle:
		return it.Title
	case FieldName:
		return it.Name
	case FieldURL:
		return it.URL
	case FieldInput:
		return it.InputName
	case FieldType:
		return it.ItemType.String()
	default:
		return ""
	}
}

// SetValue writes the named field on the item.
// Type is read-only: renaming it is a config error caught at compile time,
// not here.
func (it *Item) SetValue(f Field, v string) {
	switch f {
	case FieldGroup:
		it.Group = v
	case FieldTitle:
		it.Title = v
	case FieldName:
		it.Name = v
	case FieldURL:
		it.URL = v
	case FieldInput:
		it.InputName = v
	}
}

// ContentUUID derives the 256-bit content UUID from the fields used as
// stable identity: input name, provider id, item type, URL. The hash never
// depends on ordering or run-local state.
func ContentUUID(inputName string, providerID uint32, itemType ItemType, url string) [32]byte {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s", inputName, providerID, int(itemType), url)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func UUIDString(u [32]byte) string {
	return hex.EncodeToString(u[:])
}

// Group is a named collection of items of one cluster.
type Group struct {
	ID      uint32
	Name    string
	Cluster Cluster
}

// MarshalAdditionalProperties serializes the free-form bag deterministically
// for storage; nil map serializes as "null" like the Rust source's Option.
func (it *Item) MarshalAdditionalProperties() ([]byte, error) {
	if it.AdditionalProperties == nil {
		return []byte("null"), nil
	}
	return json.Marshal(it.AdditionalProperties)
}

// BackdropPaths normalizes the additional-properties "backdrop_path" field,
// which upstream providers may send as a string or an array of strings.
func (it *Item) BackdropPaths() []string {
	v, ok := it.AdditionalProperties["backdrop_path"]
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	default:
		return nil
	}
}

// BackdropPathN returns the Nth backdrop path (0-indexed) or "" if absent,
// for indexed access from strm templates.
func (it *Item) BackdropPathN(n int) string {
	paths := it.BackdropPaths()
	if n < 0 || n >= len(paths) {
		return ""
	}
	return paths[n]
}

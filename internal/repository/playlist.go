package repository

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/store"
)

// storedItem is the JSON payload persisted for one playlist item, keyed
// by virtual id in the content file.
type storedItem struct {
	VirtualID            uint32         `json:"virtual_id"`
	ProviderID           uint32         `json:"provider_id"`
	ParentProviderID     uint32         `json:"parent_provider_id"`
	UUID                 string         `json:"uuid"`
	Name                 string         `json:"name"`
	Title                string         `json:"title"`
	Group                string         `json:"group"`
	Chno                 string         `json:"chno"`
	Logo                 string         `json:"logo"`
	EpgChannelID         string         `json:"epg_channel_id"`
	ParentCode           string         `json:"parent_code"`
	AudioTrack           string         `json:"audio_track"`
	TimeShift            string         `json:"time_shift"`
	Rec                  string         `json:"rec"`
	URL                  string         `json:"url"`
	ItemType             model.ItemType `json:"item_type"`
	Cluster              model.Cluster  `json:"cluster"`
	CategoryID           int            `json:"category_id"`
	AdditionalProperties map[string]any `json:"additional_properties"`
	InputName            string         `json:"input_name"`
}

func toStoredItem(it model.Item) storedItem {
	return storedItem{
		VirtualID:            it.VirtualID,
		ProviderID:           it.ProviderID,
		ParentProviderID:     it.ParentProviderID,
		UUID:                 model.UUIDString(it.UUID),
		Name:                 it.Name,
		Title:                it.Title,
		Group:                it.Group,
		Chno:                 it.Chno,
		Logo:                 it.Logo,
		EpgChannelID:         it.EpgChannelID,
		ParentCode:           it.ParentCode,
		AudioTrack:           it.AudioTrack,
		TimeShift:            it.TimeShift,
		Rec:                  it.Rec,
		URL:                  it.URL,
		ItemType:             it.ItemType,
		Cluster:              it.Cluster,
		CategoryID:           it.CategoryID,
		AdditionalProperties: it.AdditionalProperties,
		InputName:            it.InputName,
	}
}

func (s storedItem) toItem() model.Item {
	var uuid [32]byte
	copy(uuid[:], decodeHex(s.UUID))
	return model.Item{
		VirtualID:            s.VirtualID,
		ProviderID:           s.ProviderID,
		ParentProviderID:     s.ParentProviderID,
		UUID:                 uuid,
		Name:                 s.Name,
		Title:                s.Title,
		Group:                s.Group,
		Chno:                 s.Chno,
		Logo:                 s.Logo,
		EpgChannelID:         s.EpgChannelID,
		ParentCode:           s.ParentCode,
		AudioTrack:           s.AudioTrack,
		TimeShift:            s.TimeShift,
		Rec:                  s.Rec,
		URL:                  s.URL,
		ItemType:             s.ItemType,
		Cluster:              s.Cluster,
		CategoryID:           s.CategoryID,
		AdditionalProperties: s.AdditionalProperties,
		InputName:            s.InputName,
	}
}

func decodeHex(s string) []byte {
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi := hexNibble(s[i*2])
		lo := hexNibble(s[i*2+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0
	}
}

// PlaylistStore is one cluster's categorized playlist collection for a
// target.
type PlaylistStore struct {
	mainPath, indexPath string
	writer              *store.Writer
}

func OpenPlaylistStore(mainPath, indexPath string) (*PlaylistStore, error) {
	w, err := store.OpenWriter(mainPath, indexPath, true)
	if err != nil {
		return nil, err
	}
	return &PlaylistStore{mainPath: mainPath, indexPath: indexPath, writer: w}, nil
}

// WritePlaylist persists every item, keyed by virtual id.
func (p *PlaylistStore) WritePlaylist(items []model.Item) error {
	for _, it := range items {
		payload, err := json.Marshal(toStoredItem(it))
		if err != nil {
			return err
		}
		if err := p.writer.WriteDoc(it.VirtualID, payload); err != nil {
			return fmt.Errorf("repository: write playlist item %d: %w", it.VirtualID, err)
		}
	}
	return p.writer.Store()
}

func (p *PlaylistStore) Close() error { return p.writer.Close() }

// RewriteFunc rewrites a stream URL to point back at this system for a
// particular user/credential context.
type RewriteFunc func(item model.Item) string

// LoadRewritePlaylist returns a lazy iterator over every stored item,
// applying rewrite to each item's URL before it is handed to the caller.
func (p *PlaylistStore) LoadRewritePlaylist(rewrite RewriteFunc) (*RewriteIterator, error) {
	reader, err := store.OpenReader(p.mainPath, p.indexPath)
	if err != nil {
		return nil, err
	}
	return &RewriteIterator{reader: reader, rewrite: rewrite}, nil
}

type RewriteIterator struct {
	reader  *store.Reader
	rewrite RewriteFunc
}

func (it *RewriteIterator) HasNext() bool { return it.reader.HasNext() }

func (it *RewriteIterator) Next() (model.Item, error) {
	buf, err := it.reader.Next()
	if err != nil {
		return model.Item{}, err
	}
	var s storedItem
	if err := json.Unmarshal(buf, &s); err != nil {
		return model.Item{}, err
	}
	item := s.toItem()
	if it.rewrite != nil {
		item.URL = it.rewrite(item)
	}
	return item, nil
}

func (it *RewriteIterator) Close() error { return it.reader.Close() }

// GetItemForStreamID resolves a virtual id to its stored item.
func (p *PlaylistStore) GetItemForStreamID(virtualID uint32) (model.Item, error) {
	buf, err := store.ReadIndexedItem(p.mainPath, p.indexPath, virtualID)
	if err != nil {
		return model.Item{}, err
	}
	var s storedItem
	if err := json.Unmarshal(buf, &s); err != nil {
		return model.Item{}, err
	}
	return s.toItem(), nil
}

// RewriteStreamURL returns newBase with "/<username>/<password><ext>"
// appended to its path, where ext is the file extension of rawURL's path.
// Nothing else of rawURL's path (such as the stream id) is carried over.
func RewriteStreamURL(rawURL, newBase, username, password string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	ext := path.Ext(u.Path)
	base, err := url.Parse(strings.TrimSuffix(newBase, "/"))
	if err != nil {
		return rawURL
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + "/" + username + "/" + password + ext
	return base.String()
}

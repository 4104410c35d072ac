package repository

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
	"github.com/xtreamrelay/xtreamrelay/internal/store"
)

// vidRecord is the persisted value for one virtual id. The content UUID is carried in the record
// itself since the index key is the virtual id, not the UUID.
type vidRecord struct {
	UUID             string          `json:"uuid"`
	ProviderID       uint32          `json:"provider_id"`
	ItemType         model.ItemType  `json:"item_type"`
	ParentProviderID uint32          `json:"parent_provider_id"`
}

// VidMap is a target's persistent content-UUID -> virtual-id mapping. It
// is append-only: an existing UUID always resolves to the same virtual
// id, and ids are assigned monotonically on first sighting.
type VidMap struct {
	mu        sync.Mutex
	mainPath  string
	indexPath string
	byUUID    map[string]uint32
	nextVID   uint32
	writer    *store.Writer
}

// OpenVidMap loads (or creates) the virtual-id map for one target.
func OpenVidMap(mainPath, indexPath string) (*VidMap, error) {
	writer, err := store.OpenWriter(mainPath, indexPath, true)
	if err != nil {
		return nil, err
	}
	vm := &VidMap{
		mainPath:  mainPath,
		indexPath: indexPath,
		byUUID:    make(map[string]uint32),
		writer:    writer,
	}
	if err := vm.loadExisting(); err != nil {
		return nil, err
	}
	return vm, nil
}

func (vm *VidMap) loadExisting() error {
	reader, err := store.OpenReader(vm.mainPath, vm.indexPath)
	if err != nil {
		// A fresh map has no prior records; that's not an error.
		return nil
	}
	defer reader.Close()
	for reader.HasNext() {
		buf, err := reader.Next()
		if err != nil {
			return err
		}
		var rec struct {
			VirtualID uint32    `json:"virtual_id"`
			Data      vidRecord `json:"data"`
		}
		if err := json.Unmarshal(buf, &rec); err != nil {
			return fmt.Errorf("repository: corrupt vidmap record: %w", err)
		}
		vm.byUUID[rec.Data.UUID] = rec.VirtualID
		if rec.VirtualID >= vm.nextVID {
			vm.nextVID = rec.VirtualID + 1
		}
	}
	return nil
}

// Resolve returns the virtual id for uuid, allocating the next id on
// first sighting and persisting the new mapping.
func (vm *VidMap) Resolve(uuid [32]byte, providerID uint32, itemType model.ItemType, parentProviderID uint32) (uint32, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	key := model.UUIDString(uuid)
	if vid, ok := vm.byUUID[key]; ok {
		return vid, nil
	}

	vid := vm.nextVID
	vm.nextVID++
	vm.byUUID[key] = vid

	rec := struct {
		VirtualID uint32    `json:"virtual_id"`
		Data      vidRecord `json:"data"`
	}{
		VirtualID: vid,
		Data: vidRecord{
			UUID:             key,
			ProviderID:       providerID,
			ItemType:         itemType,
			ParentProviderID: parentProviderID,
		},
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	if err := vm.writer.WriteDoc(vid, payload); err != nil {
		return 0, err
	}
	return vid, nil
}

// Lookup resolves a virtual id back to its stored record, for
// get_item_for_stream_id.
func (vm *VidMap) Lookup(virtualID uint32) (uuid string, providerID uint32, itemType model.ItemType, parentProviderID uint32, err error) {
	buf, err := store.ReadIndexedItem(vm.mainPath, vm.indexPath, virtualID)
	if err != nil {
		return "", 0, 0, 0, err
	}
	var rec struct {
		VirtualID uint32    `json:"virtual_id"`
		Data      vidRecord `json:"data"`
	}
	if err := json.Unmarshal(buf, &rec); err != nil {
		return "", 0, 0, 0, err
	}
	return rec.Data.UUID, rec.Data.ProviderID, rec.Data.ItemType, rec.Data.ParentProviderID, nil
}

// Store flushes the underlying writer.
func (vm *VidMap) Store() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.writer.Store()
}

// Close flushes and releases the underlying file handles.
func (vm *VidMap) Close() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.writer.Close()
}

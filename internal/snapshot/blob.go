package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"clonecore/internal/blob"
)

// BlobBackend keeps one object per slot under <name>/<slot>.
type BlobBackend struct {
	store blob.Store
}

// NewBlobBackend wraps store.
func NewBlobBackend(store blob.Store) *BlobBackend {
	return &BlobBackend{store: store}
}

func slotKey(name, slot string) string { return name + "/" + slot }

// WriteSnapshot overwrites every slot in slots and removes stale slots of a
// previous snapshot with the same name. The manifest is written last.
func (b *BlobBackend) WriteSnapshot(ctx context.Context, name string, slots map[string][]byte) error {
	existing, err := b.store.List(ctx, name+"/")
	if err != nil {
		return fmt.Errorf("list %s: %w", name, err)
	}
	order := make([]string, 0, len(slots))
	for slot := range slots {
		if slot != SlotManifest {
			order = append(order, slot)
		}
	}
	sort.Strings(order)
	if _, ok := slots[SlotManifest]; ok {
		order = append(order, SlotManifest)
	}
	for _, slot := range order {
		_, err := b.store.Put(ctx, slotKey(name, slot), bytes.NewReader(slots[slot]), blob.PutOptions{
			ContentType:     "application/json",
			ContentEncoding: "gzip",
			Metadata:        map[string]string{"snapshot": name, "slot": slot},
			Overwrite:       true,
		})
		if err != nil {
			return fmt.Errorf("put %s: %w", slot, err)
		}
	}
	for _, info := range existing {
		slot := strings.TrimPrefix(info.Key, name+"/")
		if _, keep := slots[slot]; keep {
			continue
		}
		if _, err := b.store.Delete(ctx, info.Key); err != nil {
			return fmt.Errorf("delete stale %s: %w", info.Key, err)
		}
	}
	return nil
}

// ReadSlot returns the stored payload of slot.
func (b *BlobBackend) ReadSlot(ctx context.Context, name, slot string) ([]byte, error) {
	_, rc, err := b.store.Get(ctx, slotKey(name, slot))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", name, slot, ErrNotFound)
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// List returns the names that have at least one slot.
func (b *BlobBackend) List(ctx context.Context) ([]string, error) {
	infos, err := b.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var names []string
	for _, info := range infos {
		name, _, ok := strings.Cut(info.Key, "/")
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names, nil
}

// Delete removes all slots of name.
func (b *BlobBackend) Delete(ctx context.Context, name string) (bool, error) {
	infos, err := b.store.List(ctx, name+"/")
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if _, err := b.store.Delete(ctx, info.Key); err != nil {
			return false, fmt.Errorf("delete %s: %w", info.Key, err)
		}
	}
	return len(infos) > 0, nil
}

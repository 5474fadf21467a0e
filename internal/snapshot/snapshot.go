// Package snapshot persists a Repository as a set of named slots: the
// contig table, the metadata table, the auxiliary slots and a manifest.
// Every slot is gzip-compressed JSON. Backends only move bytes.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/google/uuid"

	"clonecore/pkg/domain"
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

// Slot names.
const (
	SlotManifest  = "manifest"
	SlotData      = "data"
	SlotMetadata  = "metadata"
	SlotEdges     = "edges"
	SlotGraphs    = "graphs"
	SlotLayouts   = "layouts"
	SlotGermline  = "germline"
	SlotThreshold = "threshold"
)

// ErrNotFound is wrapped by backends when a snapshot or slot does not exist.
var ErrNotFound = errors.New("snapshot not found")

// Backend stores raw slot payloads.
type Backend interface {
	// WriteSnapshot replaces every slot of name with slots.
	WriteSnapshot(ctx context.Context, name string, slots map[string][]byte) error
	ReadSlot(ctx context.Context, name, slot string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
}

// Manifest describes a saved snapshot.
type Manifest struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Format    int       `json:"format"`
	CreatedAt time.Time `json:"created_at"`
	Slots     []string  `json:"slots"`
	Cells     int       `json:"n_obs"`
	Contigs   int       `json:"n_contigs"`
}

// Has reports whether the manifest lists slot.
func (m Manifest) Has(slot string) bool {
	for _, s := range m.Slots {
		if s == slot {
			return true
		}
	}
	return false
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName rejects names that cannot be used as a key prefix or bucket.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return domain.ConfigurationError{Option: "snapshot name", Value: name, Reason: "use letters, digits, '.', '_' or '-'"}
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(payload []byte, v any) error {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("gunzip: %w", err)
	}
	return json.Unmarshal(raw, v)
}

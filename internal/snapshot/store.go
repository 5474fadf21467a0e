package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clonecore/internal/core"
	"clonecore/internal/metadata"
	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

// Store saves and restores repositories through a Backend.
type Store struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
	newID   func() uuid.UUID
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for best-effort slot failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the manifest timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDSource overrides manifest id generation.
func WithIDSource(newID func() uuid.UUID) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes every populated slot of repo under name, replacing any
// previous snapshot of that name.
func (s *Store) Save(ctx context.Context, name string, repo *core.Repository) (Manifest, error) {
	if err := ValidateName(name); err != nil {
		return Manifest{}, err
	}
	st := repo.State()
	m := Manifest{
		ID:        s.newID(),
		Name:      name,
		Format:    FormatVersion,
		CreatedAt: s.now(),
		Contigs:   st.Data.Len(),
	}

	payloads := make(map[string][]byte)
	put := func(slot string, v any) error {
		b, err := encode(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", slot, err)
		}
		payloads[slot] = b
		m.Slots = append(m.Slots, slot)
		return nil
	}
	if err := put(SlotData, st.Data.Export()); err != nil {
		return Manifest{}, err
	}
	if st.Metadata != nil {
		m.Cells = st.Metadata.Len()
		if err := put(SlotMetadata, st.Metadata); err != nil {
			return Manifest{}, err
		}
	}
	optional := []struct {
		slot    string
		present bool
		value   any
	}{
		{SlotEdges, len(st.Slots.Edges) > 0, st.Slots.Edges},
		{SlotGraphs, len(st.Slots.Graphs) > 0, st.Slots.Graphs},
		{SlotLayouts, len(st.Slots.Layouts) > 0, st.Slots.Layouts},
		{SlotGermline, len(st.Slots.Germline) > 0, st.Slots.Germline},
		{SlotThreshold, st.Slots.Threshold != nil, st.Slots.Threshold},
	}
	for _, o := range optional {
		if !o.present {
			continue
		}
		if err := put(o.slot, o.value); err != nil {
			return Manifest{}, err
		}
	}
	b, err := encode(m)
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	payloads[SlotManifest] = b

	if err := s.backend.WriteSnapshot(ctx, name, payloads); err != nil {
		return Manifest{}, fmt.Errorf("write snapshot %s: %w", name, err)
	}
	s.logger.Info("snapshot saved",
		zap.String("snapshot", name),
		zap.String("id", m.ID.String()),
		zap.Strings("slots", m.Slots))
	return m, nil
}

// Manifest reads the manifest of name.
func (s *Store) Manifest(ctx context.Context, name string) (Manifest, error) {
	var m Manifest
	payload, err := s.backend.ReadSlot(ctx, name, SlotManifest)
	if err != nil {
		return Manifest{}, err
	}
	if err := decode(payload, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Load restores the repository saved under name. The contig table must be
// readable; every other slot is best effort and reported as a
// slot_unreadable diagnostic when it cannot be restored.
func (s *Store) Load(ctx context.Context, name string, opts ...core.Option) (*core.Repository, domain.Result, error) {
	var diags domain.Result
	if err := ValidateName(name); err != nil {
		return nil, diags, err
	}
	manifest, err := s.Manifest(ctx, name)
	haveManifest := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.unreadable(&diags, name, SlotManifest, err)
	}

	var cols []table.Column
	payload, err := s.backend.ReadSlot(ctx, name, SlotData)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, diags, fmt.Errorf("snapshot %s: %w", name, core.ErrNoData)
		}
		return nil, diags, fmt.Errorf("read %s/%s: %w", name, SlotData, err)
	}
	if err := decode(payload, &cols); err != nil {
		return nil, diags, fmt.Errorf("decode %s/%s: %w", name, SlotData, err)
	}
	data, err := table.New(cols)
	if err != nil {
		return nil, diags, fmt.Errorf("rebuild %s/%s: %w", name, SlotData, err)
	}

	st := core.State{Data: data}
	var md metadata.Table
	if s.read(ctx, &diags, name, SlotMetadata, manifest, haveManifest, &md) {
		st.Metadata = &md
	}
	var edges []core.Edge
	if s.read(ctx, &diags, name, SlotEdges, manifest, haveManifest, &edges) {
		st.Slots.Edges = edges
	}
	var graphs []json.RawMessage
	if s.read(ctx, &diags, name, SlotGraphs, manifest, haveManifest, &graphs) {
		if len(graphs) > core.MaxGraphs {
			s.unreadable(&diags, name, SlotGraphs, fmt.Errorf("%d graphs exceed the limit of %d", len(graphs), core.MaxGraphs))
		} else {
			st.Slots.Graphs = graphs
		}
	}
	var layouts []core.Layout
	if s.read(ctx, &diags, name, SlotLayouts, manifest, haveManifest, &layouts) {
		if len(layouts) > core.MaxLayouts {
			s.unreadable(&diags, name, SlotLayouts, fmt.Errorf("%d layouts exceed the limit of %d", len(layouts), core.MaxLayouts))
		} else {
			st.Slots.Layouts = layouts
		}
	}
	var germline map[string]string
	if s.read(ctx, &diags, name, SlotGermline, manifest, haveManifest, &germline) {
		st.Slots.Germline = germline
	}
	var threshold float64
	if s.read(ctx, &diags, name, SlotThreshold, manifest, haveManifest, &threshold) {
		st.Slots.Threshold = &threshold
	}

	repo, err := core.Restore(st, opts...)
	if err != nil {
		return nil, diags, err
	}
	return repo, diags, nil
}

// read decodes one optional slot into v. A slot absent from the backend is
// only reported when the manifest says it was written.
func (s *Store) read(ctx context.Context, diags *domain.Result, name, slot string, m Manifest, haveManifest bool, v any) bool {
	payload, err := s.backend.ReadSlot(ctx, name, slot)
	if err != nil {
		if errors.Is(err, ErrNotFound) && (!haveManifest || !m.Has(slot)) {
			return false
		}
		s.unreadable(diags, name, slot, err)
		return false
	}
	if err := decode(payload, v); err != nil {
		s.unreadable(diags, name, slot, err)
		return false
	}
	return true
}

func (s *Store) unreadable(diags *domain.Result, name, slot string, err error) {
	diags.Add(domain.SeverityWarn, domain.CodeSlotUnreadable, fmt.Sprintf("cannot restore %s", slot),
		map[string]string{"snapshot": name, "slot": slot, "error": err.Error()})
	s.logger.Warn("snapshot slot skipped", zap.String("snapshot", name), zap.String("slot", slot), zap.Error(err))
}

// List returns the saved snapshot names in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	names, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes every slot of name.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	return s.backend.Delete(ctx, name)
}

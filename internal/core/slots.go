package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"clonecore/internal/metadata"
	"clonecore/internal/table"
)

// Slot size limits.
const (
	MaxGraphs  = 2
	MaxLayouts = 2
)

// Edge is one weighted edge between two cells.
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// Layout maps cell ids to 2D coordinates.
type Layout map[string][2]float64

// Slots are the auxiliary payloads persisted with a repository. Graphs are
// kept as opaque JSON documents.
type Slots struct {
	Edges     []Edge            `json:"edges,omitempty"`
	Graphs    []json.RawMessage `json:"graphs,omitempty"`
	Layouts   []Layout          `json:"layouts,omitempty"`
	Germline  map[string]string `json:"germline,omitempty"`
	Threshold *float64          `json:"threshold,omitempty"`
}

func (s Slots) clone() Slots {
	out := Slots{
		Edges: append([]Edge(nil), s.Edges...),
	}
	for _, g := range s.Graphs {
		out.Graphs = append(out.Graphs, append(json.RawMessage(nil), g...))
	}
	for _, l := range s.Layouts {
		cp := make(Layout, len(l))
		for k, v := range l {
			cp[k] = v
		}
		out.Layouts = append(out.Layouts, cp)
	}
	if s.Germline != nil {
		out.Germline = make(map[string]string, len(s.Germline))
		for k, v := range s.Germline {
			out.Germline[k] = v
		}
	}
	if s.Threshold != nil {
		th := *s.Threshold
		out.Threshold = &th
	}
	return out
}

// Validate enforces slot bounds.
func (s Slots) Validate() error {
	if len(s.Graphs) > MaxGraphs {
		return ConfigurationError{Option: "graphs", Value: fmt.Sprint(len(s.Graphs)), Reason: fmt.Sprintf("at most %d graphs", MaxGraphs)}
	}
	if len(s.Layouts) > MaxLayouts {
		return ConfigurationError{Option: "layouts", Value: fmt.Sprint(len(s.Layouts)), Reason: fmt.Sprintf("at most %d layouts", MaxLayouts)}
	}
	return nil
}

// Slots returns a copy of the auxiliary slots.
func (r *Repository) Slots() Slots {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots.clone()
}

// SetSlots replaces the auxiliary slots after validating them.
func (r *Repository) SetSlots(s Slots) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.slots = s.clone()
	r.mu.Unlock()
	return nil
}

// State is everything a snapshot persists.
type State struct {
	Data     *table.RecordTable
	Metadata *metadata.Table
	Slots    Slots
}

// State returns a copy of the repository contents.
func (r *Repository) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := State{Data: r.data, Slots: r.slots.clone()}
	if r.metadata != nil {
		st.Metadata = r.metadata.Copy()
	}
	return st
}

// Restore rebuilds a repository from persisted state. The contig table is
// mandatory; every other part may be absent.
func Restore(st State, opts ...Option) (*Repository, error) {
	r, err := NewRepository(st.Data, opts...)
	if err != nil {
		return nil, err
	}
	if err := st.Slots.Validate(); err != nil {
		return nil, err
	}
	r.slots = st.Slots.clone()
	if st.Metadata != nil {
		r.metadata = st.Metadata.Copy()
		r.updatedAt = r.opts.clock.Now()
	}
	return r, nil
}

// UpdateGermline merges FASTA records into the germline slot. Record names
// are the first whitespace-separated token of each header; sequences are
// upper-cased with whitespace removed. It returns the number of records read.
func (r *Repository) UpdateGermline(src io.Reader) (int, error) {
	records, err := ReadFASTA(src)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots.Germline == nil {
		r.slots.Germline = make(map[string]string, len(records))
	}
	for name, seq := range records {
		r.slots.Germline[name] = seq
	}
	return len(records), nil
}

// ReadFASTA parses FASTA records into a name → sequence map.
func ReadFASTA(src io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var name string
	var seq strings.Builder
	flush := func() {
		if name != "" {
			out[name] = seq.String()
		}
		seq.Reset()
	}
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, ">") {
			flush()
			fields := strings.Fields(text[1:])
			if len(fields) == 0 {
				return nil, fmt.Errorf("fasta line %d: empty header", line)
			}
			name = fields[0]
			continue
		}
		if name == "" {
			return nil, fmt.Errorf("fasta line %d: sequence before header", line)
		}
		seq.WriteString(strings.ToUpper(strings.Join(strings.Fields(text), "")))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read fasta: %w", err)
	}
	flush()
	return out, nil
}

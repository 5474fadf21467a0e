package locus

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

func mustTable(t *testing.T, tsv string) *table.RecordTable {
	t.Helper()
	tbl, err := table.ReadTSV(strings.NewReader(tsv))
	require.NoError(t, err)
	return tbl
}

const mixed = "sequence_id\tcell_id\tlocus\n" +
	"s1\tC1\tIGH\n" +
	"s2\tC1\tIGK\n" +
	"s3\tC2\tIGL\n" +
	"s4\tC2\tTRB\n" +
	"s5\tC3\t\n"

func TestPartitionHeavyLight(t *testing.T) {
	p, diags := Partition(mustTable(t, mixed), Immunoglobulin, true, false)
	assert.Empty(t, diags.Diagnostics)
	assert.False(t, p.SingleLocus)
	require.Len(t, p.Categories, 2)
	assert.Equal(t, "heavy", p.Categories[0].Suffix)
	assert.Equal(t, "H", p.Categories[0].Label)
	assert.Equal(t, []int{0}, p.Categories[0].Rows)
	assert.Equal(t, ChainLight, p.Categories[1].Chain)
	assert.Equal(t, []int{1, 2}, p.Categories[1].Rows, "TRB and missing loci fall outside the scheme")
}

func TestPartitionSplitLocusKeepsEmptyCategories(t *testing.T) {
	tbl := mustTable(t, "sequence_id\tcell_id\tlocus\ns1\tC1\tIGH\ns2\tC1\tIGK\n")
	p, _ := Partition(tbl, Immunoglobulin, true, true)
	require.Len(t, p.Categories, 3)
	assert.Equal(t, []string{"IGH", "IGK", "IGL"}, []string{p.Categories[0].Suffix, p.Categories[1].Suffix, p.Categories[2].Suffix})
	assert.Empty(t, p.Categories[2].Rows)
	assert.True(t, p.SplitLocus)
}

func TestPartitionSingleLocus(t *testing.T) {
	tbl := mustTable(t, "sequence_id\tcell_id\tlocus\ns1\tC1\tIGH\ns2\tC2\tIGH\n")
	p, diags := Partition(tbl, Immunoglobulin, true, true)
	assert.True(t, p.SingleLocus)
	assert.False(t, p.SplitLocus)
	require.Len(t, p.Categories, 1)
	assert.Equal(t, ChainHeavy, p.Categories[0].Chain)
	assert.Equal(t, "", p.Categories[0].Suffix)
	assert.Equal(t, []int{0, 1}, p.Categories[0].Rows)
	assert.True(t, diags.Has(domain.CodeSingleLocus))

	light := mustTable(t, "sequence_id\tcell_id\tlocus\ns1\tC1\tIGK\n")
	p, diags = Partition(light, Immunoglobulin, false, false)
	assert.Equal(t, ChainLight, p.Categories[0].Chain)
	assert.Empty(t, diags.Diagnostics, "no diagnostic when splitting was not requested")
}

func TestPartitionByNameRejectsUnknownScheme(t *testing.T) {
	_, _, err := PartitionByName(mustTable(t, mixed), "nope", true, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	var cfg domain.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "nope", cfg.Value)

	p, _, err := PartitionByName(mustTable(t, mixed), "", true, false)
	require.NoError(t, err)
	assert.Equal(t, "ig", p.Scheme.Name)
}

func TestLoadSchemesRegisters(t *testing.T) {
	doc := `
schemes:
  - name: tr-test
    heavy: TRB
    light: [TRA]
    heavy_label: H
    light_label: L
`
	schemes, err := LoadSchemes(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, schemes, 1)
	s, err := Lookup("tr-test")
	require.NoError(t, err)
	assert.Equal(t, []string{"TRB", "TRA"}, s.Loci())
	assert.True(t, s.IsLight("TRA"))
	assert.Contains(t, Names(), "tr-test")

	_, err = LoadSchemes(strings.NewReader("schemes:\n  - name: bad\n    heavy: X\n"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	schemes, err = LoadSchemes(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, schemes)
}

func TestSchemeValidate(t *testing.T) {
	cases := []struct {
		name   string
		scheme Scheme
		ok     bool
	}{
		{"builtin", Immunoglobulin, true},
		{"no name", Scheme{Heavy: "A", Light: []string{"B"}, HeavyLabel: "H", LightLabel: "L"}, false},
		{"same labels", Scheme{Name: "x", Heavy: "A", Light: []string{"B"}, HeavyLabel: "H", LightLabel: "H"}, false},
		{"duplicate locus", Scheme{Name: "x", Heavy: "A", Light: []string{"A"}, HeavyLabel: "H", LightLabel: "L"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.scheme.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

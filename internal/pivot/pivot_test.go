package pivot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clonecore/internal/table"
	"clonecore/pkg/domain"
)

func TestBuildRanksByFirstAppearance(t *testing.T) {
	tbl, err := table.ReadTSV(strings.NewReader("sequence_id\tcell_id\n" +
		"a\tC2\n" +
		"b\tC1\n" +
		"c\tC2\n" +
		"d\t\n" +
		"e\tC2\n"))
	require.NoError(t, err)

	idx, diags := Build(tbl, []int{0, 1, 2, 3, 4})
	assert.Equal(t, []string{"C2", "C1"}, idx.Cells())
	assert.Equal(t, 3, idx.Width())
	assert.Equal(t, []string{"a", "c", "e"}, idx.Members("C2"))

	seq, ok := idx.At("C1", 0)
	assert.True(t, ok)
	assert.Equal(t, "b", seq)
	_, ok = idx.At("C1", 1)
	assert.False(t, ok, "trailing ranks are empty")

	require.True(t, diags.Has(domain.CodeMissingCellID))
	assert.Equal(t, "1", diags.Diagnostics[0].Context["rows"])
	assert.Equal(t, []string{"C2", "C1"}, Cells(tbl))
}

func TestBuildSubsetAndEmpty(t *testing.T) {
	tbl, err := table.ReadTSV(strings.NewReader("sequence_id\tcell_id\nx\tC1\ny\tC1\n"))
	require.NoError(t, err)

	idx, diags := Build(tbl, []int{1})
	assert.Equal(t, []string{"y"}, idx.Members("C1"))
	assert.Empty(t, diags.Diagnostics)

	empty, _ := Build(tbl, nil)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 0, empty.Width())
	assert.Empty(t, empty.Members("C1"))
}

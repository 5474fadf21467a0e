package main

import (
	"bytes"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clonecore/internal/pkg/logger"
	"clonecore/internal/table"
)

var (
	concatOutput      string
	concatCheckUnique bool
)

var concatCmd = &cobra.Command{
	Use:   "concat <a.tsv> <b.tsv> [more.tsv...]",
	Short: "Stack contig tables into one",
	Long: `Concatenates contig tables row-wise. Columns are unioned; cells a source
lacks are left empty. With --check-unique, colliding sequence ids are
suffixed with the index of their source table.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runConcat,
}

func init() {
	concatCmd.Flags().StringVarP(&concatOutput, "output", "o", "", "output file (default stdout)")
	concatCmd.Flags().BoolVar(&concatCheckUnique, "check-unique", true, "disambiguate colliding sequence ids")
}

func runConcat(cmd *cobra.Command, args []string) error {
	merged, err := readTables(args, concatCheckUnique)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := table.WriteTSV(&buf, merged); err != nil {
		return err
	}
	logger.OrNop().Debug("tables concatenated", zap.Int("inputs", len(args)), zap.Int("contigs", merged.Len()))
	return writeOutput(cmd.OutOrStdout(), concatOutput, buf.Bytes())
}

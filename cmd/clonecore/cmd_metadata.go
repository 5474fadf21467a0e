package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clonecore/internal/adapters/export"
	"clonecore/internal/config"
	"clonecore/internal/core"
	"clonecore/internal/pkg/logger"
)

var (
	mdRetrieve        []string
	mdLocus           string
	mdCloneKey        string
	mdSplit           bool
	mdCollapse        bool
	mdCombine         bool
	mdSplitLocus      bool
	mdCollapseAlleles bool
	mdFormat          string
	mdColumns         []string
	mdOutput          string
	mdPublish         string
	mdCheckUnique     bool
)

var metadataCmd = &cobra.Command{
	Use:   "metadata <contigs.tsv> [more.tsv...]",
	Short: "Build the per-cell metadata table",
	Long: `Reads one or more contig tables, builds the per-cell metadata table and
writes it to stdout (or --output). Several inputs are concatenated first.

Retrieved fields are split by locus and collapsed according to --split,
--collapse, --combine and --split-locus; unset flags fall back to the
metadata section of the configuration.

Example:
  clonecore metadata filtered_contig_annotations.tsv \
      --retrieve umi_count,productive --split-locus --format csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMetadata,
}

func init() {
	f := metadataCmd.Flags()
	f.StringSliceVar(&mdRetrieve, "retrieve", nil, "contig fields to aggregate per cell")
	f.StringVar(&mdLocus, "locus", "", "locus scheme (default from config, ig)")
	f.StringVar(&mdCloneKey, "clone-key", "", "clone identifier column")
	f.BoolVar(&mdSplit, "split", true, "emit one column per locus category")
	f.BoolVar(&mdCollapse, "collapse", true, "join multiple contigs of a category into one value")
	f.BoolVar(&mdCombine, "combine", true, "deduplicate values when collapsing")
	f.BoolVar(&mdSplitLocus, "split-locus", false, "split light contigs by individual locus")
	f.BoolVar(&mdCollapseAlleles, "collapse-alleles", true, "add allele-collapsed gene call columns")
	f.StringVar(&mdFormat, "format", "tsv", "output format: csv, tsv, json or html")
	f.StringSliceVar(&mdColumns, "columns", nil, "metadata columns to write (default all)")
	f.StringVarP(&mdOutput, "output", "o", "", "output file (default stdout)")
	f.StringVar(&mdPublish, "publish", "", "store the rendered table in the blob store under this name")
	f.BoolVar(&mdCheckUnique, "check-unique", true, "disambiguate colliding sequence ids across inputs")
}

// metadataOptions starts from the configured update options and applies the
// flags the user set explicitly.
func metadataOptions(cmd *cobra.Command, c *config.Config) core.UpdateOptions {
	opts := c.UpdateOptions()
	flags := cmd.Flags()
	if flags.Changed("retrieve") {
		opts.Retrieve = append([]string(nil), mdRetrieve...)
	}
	if flags.Changed("locus") {
		opts.Locus = mdLocus
	}
	if flags.Changed("clone-key") {
		opts.CloneKey = mdCloneKey
	}
	if flags.Changed("split") {
		opts.Split = mdSplit
	}
	if flags.Changed("collapse") {
		opts.Collapse = mdCollapse
	}
	if flags.Changed("combine") {
		opts.Combine = mdCombine
	}
	if flags.Changed("split-locus") {
		opts.SplitLocus = mdSplitLocus
	}
	if flags.Changed("collapse-alleles") {
		opts.CollapseAlleles = mdCollapseAlleles
	}
	return opts
}

func outputFormat() (export.Format, error) {
	if mdFormat == "" {
		return export.FormatTSV, nil
	}
	return export.ParseFormat(mdFormat)
}

func runMetadata(cmd *cobra.Command, args []string) error {
	c, err := currentConfig()
	if err != nil {
		return err
	}
	format, err := outputFormat()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	data, err := readTables(args, mdCheckUnique)
	if err != nil {
		return err
	}
	sink, err := newMetricsSink(c.Metrics.Backend)
	if err != nil {
		return err
	}
	repo, err := core.NewRepository(data, repositoryOptions(cmd, c, sink)...)
	if err != nil {
		return err
	}
	diags, err := repo.UpdateMetadata(ctx, metadataOptions(cmd, c))
	if err != nil {
		return err
	}
	printDiagnostics(cmd.ErrOrStderr(), diags)
	md, err := repo.Metadata(ctx)
	if err != nil {
		return err
	}

	if mdPublish != "" {
		store, err := openBlobStore(ctx, c)
		if err != nil {
			return err
		}
		exp := export.New(export.WithStore(store), export.WithLogger(logger.OrNop()))
		artifact, err := exp.Publish(ctx, mdPublish, format, md, mdColumns)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "published %s (%d bytes)\n", artifact.Key, artifact.SizeBytes)
		return sink.write()
	}

	rendered, err := export.New(export.WithLogger(logger.OrNop())).Materialize(format, md, mdColumns)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), mdOutput, rendered.Payload); err != nil {
		return err
	}
	logger.OrNop().Debug("metadata written",
		zap.Int("cells", md.Len()),
		zap.Int("columns", len(md.Columns())),
		zap.String("format", string(format)))
	return sink.write()
}

// writeOutput writes payload to path, or to stdout when path is empty.
func writeOutput(stdout io.Writer, path string, payload []byte) error {
	if path == "" {
		_, err := stdout.Write(payload)
		return err
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

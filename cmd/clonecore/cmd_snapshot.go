package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clonecore/internal/adapters/export"
	"clonecore/internal/core"
)

var (
	snapGermline    string
	snapCheckUnique bool
	snapFormat      string
	snapColumns     []string
	snapOutput      string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save, load and manage repository snapshots",
	Long: `Snapshots persist the contig table, the metadata table and the auxiliary
slots (edges, graphs, layouts, germline, threshold) to the backend selected
by snapshot.driver: a blob store (fs, memory or s3), SQLite or Postgres.`,
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <name> <contigs.tsv> [more.tsv...]",
	Short: "Build a repository from contig tables and save it",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSnapshotSave,
}

var snapshotLoadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Load a snapshot and print its summary or metadata",
	Long: `Loads a snapshot. Without --format the repository summary is printed;
with it the metadata table is rendered like the metadata command does.
Unreadable auxiliary slots are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshotLoad,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotList,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotDelete,
}

func init() {
	snapshotSaveCmd.Flags().StringVar(&snapGermline, "germline", "", "FASTA file merged into the germline slot")
	snapshotSaveCmd.Flags().BoolVar(&snapCheckUnique, "check-unique", true, "disambiguate colliding sequence ids across inputs")
	snapshotLoadCmd.Flags().StringVar(&snapFormat, "format", "", "render metadata as csv, tsv, json or html")
	snapshotLoadCmd.Flags().StringSliceVar(&snapColumns, "columns", nil, "metadata columns to render (default all)")
	snapshotLoadCmd.Flags().StringVarP(&snapOutput, "output", "o", "", "output file (default stdout)")

	snapshotCmd.AddCommand(snapshotSaveCmd, snapshotLoadCmd, snapshotListCmd, snapshotDeleteCmd)
}

func runSnapshotSave(cmd *cobra.Command, args []string) error {
	c, err := currentConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	name := args[0]

	data, err := readTables(args[1:], snapCheckUnique)
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
	diags, err := repo.UpdateMetadata(ctx, c.UpdateOptions())
	if err != nil {
		return err
	}
	printDiagnostics(cmd.ErrOrStderr(), diags)

	if snapGermline != "" {
		f, err := os.Open(snapGermline)
		if err != nil {
			return err
		}
		n, err := repo.UpdateGermline(f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("read germline %s: %w", snapGermline, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "germline: %d records\n", n)
	}

	store, closeStore, err := openSnapshots(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	m, err := store.Save(ctx, name, repo)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s id=%s n_obs=%d n_contigs=%d slots=%s\n",
		m.Name, m.ID, m.Cells, m.Contigs, strings.Join(m.Slots, ","))
	return sink.write()
}

func runSnapshotLoad(cmd *cobra.Command, args []string) error {
	c, err := currentConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	store, closeStore, err := openSnapshots(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	sink, err := newMetricsSink(c.Metrics.Backend)
	if err != nil {
		return err
	}
	repo, diags, err := store.Load(ctx, args[0], repositoryOptions(cmd, c, sink)...)
	if err != nil {
		return err
	}
	printDiagnostics(cmd.ErrOrStderr(), diags)

	if snapFormat == "" {
		fmt.Fprintln(cmd.OutOrStdout(), repo.String())
		if at := repo.UpdatedAt(); !at.IsZero() {
			fmt.Fprintf(cmd.OutOrStdout(), "    loaded: %s\n", at.Format(time.RFC3339))
		}
		return sink.write()
	}
	format, err := export.ParseFormat(snapFormat)
	if err != nil {
		return err
	}
	md, err := repo.Metadata(ctx)
	if err != nil {
		return err
	}
	rendered, err := export.New().Materialize(format, md, snapColumns)
	if err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), snapOutput, rendered.Payload); err != nil {
		return err
	}
	return sink.write()
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	c, err := currentConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	store, closeStore, err := openSnapshots(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	names, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	c, err := currentConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	store, closeStore, err := openSnapshots(ctx, c)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	deleted, err := store.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("snapshot %q not found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"clonecore/internal/locus"
	"clonecore/internal/stats"
)

var schemesCmd = &cobra.Command{
	Use:   "schemes",
	Short: "List registered locus schemes",
	Args:  cobra.NoArgs,
	RunE:  runSchemes,
}

var fdrCmd = &cobra.Command{
	Use:   "fdr [pvalues.txt]",
	Short: "Benjamini-Hochberg adjust a list of p-values",
	Long: `Reads one p-value per line from the file (or stdin) and prints each
p-value next to its Benjamini-Hochberg q-value, in input order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFDR,
}

func runSchemes(cmd *cobra.Command, args []string) error {
	if _, err := currentConfig(); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tHEAVY\tLIGHT\tLABELS")
	for _, name := range locus.Names() {
		s, err := locus.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\n", s.Name, s.Heavy, strings.Join(s.Light, ","), s.HeavyLabel, s.LightLabel)
	}
	return tw.Flush()
}

func runFDR(cmd *cobra.Command, args []string) error {
	var src io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		src = f
	}
	pvalues, err := readPValues(src)
	if err != nil {
		return err
	}
	qvalues, err := stats.BH(pvalues)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(cmd.OutOrStdout())
	for i, p := range pvalues {
		fmt.Fprintf(w, "%s\t%s\n", formatFloat(p), formatFloat(qvalues[i]))
	}
	return w.Flush()
}

func readPValues(r io.Reader) ([]float64, error) {
	var out []float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		p, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	return out, sc.Err()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/proxyprobe/internal/config"
	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/report"
)

// errNoHistory is returned when the history database has not been created.
var errNoHistory = errors.New("no runs recorded yet (run 'proxyprobe check' first)")

// NewHistoryCmd creates the history command.
// This command reads the runs recorded by check.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Long: `History lists the runs recorded by 'proxyprobe check'.

Each run stores its counters, failure reasons, target and the working
proxies in the order they were confirmed. The working list of any run can
be exported again, and two runs can be compared to see which proxies
stopped working and which are new.

Examples:
  # List the 20 most recent runs
  proxyprobe history

  # Print the working proxies of run 12
  proxyprobe history --show 12 > working.txt

  # Print the working proxies of the most recent run
  proxyprobe history --latest

  # Compare run 10 with run 12
  proxyprobe history --diff 10,12

  # List the runs that checked the same proxy list as run 12
  proxyprobe history --same-input 12`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", 20,
		"Maximum number of runs to list (0 = all)")
	cmd.Flags().Int64("show", 0,
		"Print the working proxies of the run with this ID")
	cmd.Flags().Bool("latest", false,
		"Print the working proxies of the most recent run")
	cmd.Flags().Int64Slice("diff", nil,
		"Compare two runs: --diff FROM,TO")
	cmd.Flags().Int64("same-input", 0,
		"List the runs that checked the same proxy list as the run with this ID")
	cmd.Flags().String("db-dir", "",
		"Directory of the history database (default: XDG data directory)")

	cmd.MarkFlagsMutuallyExclusive("show", "latest", "diff", "same-input")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()

	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	showID, err := flags.GetInt64("show")
	if err != nil {
		return err
	}
	latest, err := flags.GetBool("latest")
	if err != nil {
		return err
	}
	diffIDs, err := flags.GetInt64Slice("diff")
	if err != nil {
		return err
	}
	sameInputID, err := flags.GetInt64("same-input")
	if err != nil {
		return err
	}
	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return err
	}
	if dbDir == "" {
		dbDir = config.XDGDataDir()
	}

	// Validate arguments before opening the database.
	if flags.Changed("diff") && len(diffIDs) != 2 {
		return fmt.Errorf("--diff needs exactly two run IDs, got %d", len(diffIDs))
	}

	// History never creates the database; a missing file means no runs yet.
	db, err := database.Open(dbDir, database.Options{})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errNoHistory
		}
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case flags.Changed("show"):
		return printWorking(ctx, out, db, showID)
	case latest:
		id, err := db.LatestRunID(ctx)
		if errors.Is(err, database.ErrRunNotFound) {
			return errNoHistory
		}
		if err != nil {
			return err
		}
		return printWorking(ctx, out, db, id)
	case len(diffIDs) == 2:
		return printDiff(ctx, out, db, diffIDs[0], diffIDs[1])
	case flags.Changed("same-input"):
		return listSameInput(ctx, out, db, sameInputID, limit)
	default:
		return listRuns(ctx, out, db, limit)
	}
}

// listRuns prints a table of recorded runs, newest first.
func listRuns(ctx context.Context, out io.Writer, db *database.RunDB, limit int) error {
	runs, err := db.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		fmt.Fprintln(out, "\nUse 'proxyprobe check <file>' to check a proxy list.")
		return nil
	}

	fmt.Fprintf(out, "Recorded runs (%d):\n\n", len(runs))
	printRunTable(out, runs)

	fmt.Fprintln(out, "\nUse 'proxyprobe history --show <id>' to export a run's working proxies.")
	fmt.Fprintln(out, "Use 'proxyprobe history --diff <from>,<to>' to compare two runs.")
	return nil
}

// listSameInput prints the runs whose input digest matches run id.
func listSameInput(ctx context.Context, out io.Writer, db *database.RunDB, id int64, limit int) error {
	run, err := db.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.InputDigest == "" {
		return fmt.Errorf("run %d has no recorded input digest", id)
	}

	runs, err := db.ListRunsByInput(ctx, run.InputDigest, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Runs with the same input as run %d (%s, %d):\n\n",
		id, database.ShortDigest(run.InputDigest), len(runs))
	printRunTable(out, runs)
	return nil
}

// printRunTable writes one row per run. The Input column is a short input
// digest; equal values mean the same proxy list was checked.
func printRunTable(out io.Writer, runs []database.RunRecord) {
	p := message.NewPrinter(language.English)
	fmt.Fprintf(out, "  %-6s  %-19s  %-12s  %10s  %8s  %8s  %-9s  %s\n",
		"ID", "Date", "Input", "Tested", "Working", "Rate", "Status", "Top failures")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 104))

	for _, run := range runs {
		status := "complete"
		if run.Cancelled {
			status = "cancelled"
		}
		fmt.Fprintf(out, "  %-6d  %-19s  %-12s  %10s  %8s  %7.1f%%  %-9s  %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			database.ShortDigest(run.InputDigest),
			p.Sprintf("%d", run.Tested),
			p.Sprintf("%d", run.Working),
			run.SuccessRate,
			status,
			formatReasons(run.Reasons, 2),
		)
	}
}

// formatReasons renders the n most common failure reasons.
func formatReasons(reasons map[string]int, n int) string {
	if len(reasons) == 0 {
		return "-"
	}

	names := report.SortedReasons(reasons)
	if len(names) > n {
		names = names[:n]
	}

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %d", name, reasons[name])
	}
	return strings.Join(parts, ", ")
}

// printWorking writes the working list of a run, one proxy per line, so the
// output can be redirected straight into a file.
func printWorking(ctx context.Context, out io.Writer, db *database.RunDB, id int64) error {
	proxies, err := db.WorkingProxies(ctx, id)
	if err != nil {
		return err
	}

	summary := &model.RunSummary{WorkingProxies: proxies}
	if _, err := report.NewListWriter(out).Write(summary); err != nil {
		return err
	}
	if len(proxies) > 0 {
		fmt.Fprintln(out)
	}
	return nil
}

// printDiff prints the proxies gained and lost between two runs.
func printDiff(ctx context.Context, out io.Writer, db *database.RunDB, from, to int64) error {
	diff, err := db.Diff(ctx, from, to)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %d -> run %d: %d gained, %d lost, %d kept\n",
		diff.From, diff.To, len(diff.Gained), len(diff.Lost), len(diff.Kept))
	if !diff.SameInput {
		fmt.Fprintf(out, "Warning: runs %d and %d checked different proxy lists; lost proxies may not have been tested again.\n",
			diff.From, diff.To)
	}

	writeSection := func(title, sign string, list []model.Candidate) {
		if len(list) == 0 {
			return
		}
		fmt.Fprintf(out, "\n%s:\n", title)
		for _, c := range list {
			fmt.Fprintf(out, "  %s %s\n", sign, c)
		}
	}
	writeSection("Gained", "+", diff.Gained)
	writeSection("Lost", "-", diff.Lost)
	return nil
}

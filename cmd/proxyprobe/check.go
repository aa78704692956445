package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/nao1215/proxyprobe/internal/config"
	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/model"
	"github.com/nao1215/proxyprobe/internal/pipeline"
	"github.com/nao1215/proxyprobe/internal/probe"
	"github.com/nao1215/proxyprobe/internal/report"
)

// probeGrace is added to the total timeout before the pipeline gives up on a
// probe that has not returned.
const probeGrace = 2 * time.Second

// NewCheckCmd creates the check command.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [file...]",
		Short: "Check which proxies in a list work",
		Long: `Check reads candidate proxies (ip:port, one per line) and probes them concurrently.

A candidate works when it can fetch the target URL with a 200 response
within the timeout. Malformed lines are skipped. Extra fields after the port
(such as ip:port:user:pass) are ignored.

Use - to read the list from stdin. Press Ctrl+C to stop early: probes that
are already running finish and the partial result is still reported and
saved.

Examples:
  # Check a list
  proxyprobe check proxies.txt

  # Read from stdin and keep only working proxies in a file
  cat proxies.txt | proxyprobe check - -w working.txt

  # Append each working proxy to a file as soon as it is found
  proxyprobe check proxies.txt --stream found.txt

  # Check SOCKS5 proxies against an HTTPS target with 300 probes in flight
  proxyprobe check socks.txt -s socks5 -u https://example.com -n 300

  # Markdown report
  proxyprobe check proxies.txt -m -o report.md`,
		Args: cobra.ArbitraryArgs,
		RunE: runCheckCmd,
	}

	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .proxyprobe in current or home directory)")

	// Probe flags
	cmd.Flags().StringP("target", "u", config.DefaultTargetURL,
		"URL fetched through every candidate")
	cmd.Flags().Duration("connect-timeout", config.DefaultConnectTimeout,
		"Timeout for connecting to a candidate")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTotalTimeout,
		"Timeout for a whole probe")
	cmd.Flags().StringP("scheme", "s", config.DefaultScheme,
		"Proxy protocol: http or socks5")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every probe")
	cmd.Flags().Bool("random-user-agent", false,
		"Send a random browser User-Agent with every probe")
	cmd.Flags().StringArrayP("header", "H", nil,
		`Extra request header as "Name: value" (repeatable)`)
	cmd.Flags().Int64("max-body", config.DefaultMaxBodySize,
		"Maximum response body bytes read per probe")

	// Run flags
	cmd.Flags().IntP("concurrency", "n", config.DefaultConcurrency,
		"Maximum number of probes in flight")
	cmd.Flags().Int("progress-every", config.DefaultProgressEvery,
		"Report progress every N completed probes")
	cmd.Flags().Float64("rate", 0,
		"Maximum probe launches per second (0 = unlimited)")
	cmd.Flags().Bool("unique", false,
		"Probe each distinct candidate once")
	cmd.Flags().Bool("no-progress", false,
		"Print progress lines instead of the progress bar")

	// Output flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("list", false,
		"Include the working proxies in the text report")
	cmd.Flags().String("lang", config.DefaultLanguage,
		"Language tag for number formatting in the text report (e.g. en, de)")
	cmd.Flags().StringP("save-working", "w", "",
		"Write working proxies to this file, or to working_proxies_<unix>.txt if it is a directory")
	cmd.Flags().String("stream", "",
		"Append each working proxy to this file as soon as it is found (- for stdout)")

	// History flags
	cmd.Flags().Bool("no-save", false,
		"Do not record the run in the history database")
	cmd.Flags().String("db-dir", "",
		"Directory of the history database (default: XDG data directory)")

	return cmd
}

func runCheckCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, waiting for running probes")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCheck(ctx, cfg, streams{
		in:  cmd.InOrStdin(),
		out: cmd.OutOrStdout(),
		err: cmd.ErrOrStderr(),
	}, logger)
}

// streams groups the standard streams so tests can replace them.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// buildConfig creates a Config from the configuration file and cobra flags.
// Flags override the file only when they were set on the command line.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// An explicit config path must exist; the default search may find nothing.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		file.Apply(cfg)
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	if err := overrideFromFlags(cmd, cfg); err != nil {
		return nil, err
	}

	cfg.Inputs = args
	cfg.Verbose = getBoolFlag(cmd, "verbose")

	if cfg.DBDir == "" {
		cfg.DBDir = config.XDGDataDir()
	}

	return cfg, nil
}

// overrideFromFlags copies every flag the user set onto cfg.
func overrideFromFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var err error

	set := func(name string, apply func() error) {
		if err != nil || !flags.Changed(name) {
			return
		}
		err = apply()
	}

	set("target", func() (e error) { cfg.TargetURL, e = flags.GetString("target"); return })
	set("connect-timeout", func() (e error) { cfg.ConnectTimeout, e = flags.GetDuration("connect-timeout"); return })
	set("timeout", func() (e error) { cfg.TotalTimeout, e = flags.GetDuration("timeout"); return })
	set("scheme", func() (e error) { cfg.Scheme, e = flags.GetString("scheme"); return })
	set("user-agent", func() (e error) { cfg.UserAgent, e = flags.GetString("user-agent"); return })
	set("random-user-agent", func() (e error) { cfg.RandomUserAgent, e = flags.GetBool("random-user-agent"); return })
	set("max-body", func() (e error) { cfg.MaxBodySize, e = flags.GetInt64("max-body"); return })
	set("concurrency", func() (e error) { cfg.Concurrency, e = flags.GetInt("concurrency"); return })
	set("progress-every", func() (e error) { cfg.ProgressEvery, e = flags.GetInt("progress-every"); return })
	set("rate", func() (e error) { cfg.LaunchRate, e = flags.GetFloat64("rate"); return })
	set("unique", func() (e error) { cfg.Unique, e = flags.GetBool("unique"); return })
	set("lang", func() (e error) { cfg.Language, e = flags.GetString("lang"); return })
	set("header", func() error {
		headers, e := flags.GetStringArray("header")
		if e != nil {
			return e
		}
		return applyHeaderFlags(cfg, headers)
	})
	if err != nil {
		return err
	}

	if cfg.NoProgress, err = flags.GetBool("no-progress"); err != nil {
		return err
	}
	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return err
	}
	if cfg.ListWorking, err = flags.GetBool("list"); err != nil {
		return err
	}
	if cfg.WorkingFile, err = flags.GetString("save-working"); err != nil {
		return err
	}
	if cfg.StreamFile, err = flags.GetString("stream"); err != nil {
		return err
	}
	noSave, err := flags.GetBool("no-save")
	if err != nil {
		return err
	}
	cfg.SaveToDB = !noSave
	if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
		return err
	}
	return nil
}

// applyHeaderFlags parses "Name: value" header flags onto cfg.Headers.
func applyHeaderFlags(cfg *config.Config, headers []string) error {
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid header %q: expected \"Name: value\"", h)
		}
		cfg.Headers[name] = strings.TrimSpace(value)
	}
	return nil
}

// runCheck reads the candidates, runs the pipeline and delivers the results.
func runCheck(ctx context.Context, cfg *config.Config, std streams, logger *slog.Logger) error {
	candidates, err := readInputs(cfg.Inputs, std.in)
	if err != nil {
		return err
	}
	if cfg.Unique {
		candidates = model.Unique(candidates)
	}

	prober, err := probe.New(probe.Config{
		ConnectTimeout:  cfg.ConnectTimeout,
		TotalTimeout:    cfg.TotalTimeout,
		TargetURL:       cfg.TargetURL,
		UserAgent:       cfg.UserAgent,
		RandomUserAgent: cfg.RandomUserAgent,
		Headers:         cfg.Headers,
		Scheme:          cfg.Scheme,
		MaxBodySize:     cfg.MaxBodySize,
	}, probe.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger.Info("starting check",
		"candidates", len(candidates),
		"concurrency", cfg.Concurrency,
		"target", cfg.TargetURL,
		"scheme", cfg.Scheme,
	)

	opts := []pipeline.Option{
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithProgressEvery(cfg.ProgressEvery),
		pipeline.WithProbeDeadline(prober.Timeout() + probeGrace),
		pipeline.WithLaunchRate(cfg.LaunchRate),
		pipeline.WithLogger(logger),
	}

	var bar *report.ProgressBar
	if cfg.NoProgress || len(candidates) == 0 {
		opts = append(opts, pipeline.WithOnProgress(report.NewProgressPrinter(std.err).Update))
	} else {
		bar = report.NewProgressBar(std.err, len(candidates))
		opts = append(opts, pipeline.WithOnProgress(bar.Update))
	}

	if cfg.StreamFile != "" {
		stream, closeStream, err := openStream(cfg.StreamFile, std.out)
		if err != nil {
			return err
		}
		defer closeStream()
		opts = append(opts, pipeline.WithOnSuccess(stream.WriteCandidate))
	}

	runner, err := pipeline.NewRunner(prober.Probe, opts...)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	summary, runErr := runner.Run(ctx, candidates)
	if bar != nil {
		_ = bar.Finish() //nolint:errcheck // cosmetic
	}
	if summary == nil {
		return runErr
	}

	if err := outputReport(cfg, summary, std.out); err != nil {
		logger.Error("report failed", "error", err)
	}

	if cfg.WorkingFile != "" {
		path, err := saveWorking(cfg.WorkingFile, summary)
		if err != nil {
			logger.Error("failed to save working proxies", "error", err)
		} else {
			fmt.Fprintf(std.err, "Working proxies saved to %s\n", path)
		}
	}

	if cfg.SaveToDB {
		if err := saveRun(ctx, cfg, summary, candidates, logger); err != nil {
			logger.Error("failed to save run", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("check interrupted after %d of %d candidates: %w",
			summary.Tested, summary.Total, runErr)
	}
	return nil
}

// readInputs reads and parses every input in order. "-" reads from stdin.
func readInputs(inputs []string, stdin io.Reader) ([]model.Candidate, error) {
	var all []model.Candidate
	for _, in := range inputs {
		var (
			candidates []model.Candidate
			err        error
		)
		if in == "-" {
			candidates, err = model.ReadCandidates(stdin)
		} else {
			candidates, err = readFile(in)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", in, err)
		}
		all = append(all, candidates...)
	}
	if all == nil {
		all = []model.Candidate{}
	}
	return all, nil
}

func readFile(path string) ([]model.Candidate, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided input path is intentional
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.ReadCandidates(f)
}

// openStream opens the streaming success destination. "-" is stdout.
func openStream(path string, stdout io.Writer) (*report.StreamWriter, func(), error) {
	if path == "-" {
		return report.NewStreamWriter(stdout), func() {}, nil
	}
	if err := ensureParentDir(path); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // User-provided output path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stream file: %w", err)
	}
	return report.NewStreamWriter(f), func() { _ = f.Close() }, nil
}

// outputReport writes the summary in the requested format to the report
// file, or to stdout. When a JSON or Markdown report goes to a file, the text
// summary is still printed to stdout.
func outputReport(cfg *config.Config, summary *model.RunSummary, stdout io.Writer) error {
	tag, err := language.Parse(cfg.Language)
	if err != nil {
		tag = language.English
	}
	newText := func(w io.Writer) report.Writer {
		return report.NewSimpleWriter(w, report.WithListWorking(cfg.ListWorking), report.WithLanguage(tag))
	}

	output := stdout
	if cfg.ReportFile != "" {
		if err := ensureParentDir(cfg.ReportFile); err != nil {
			return err
		}
		// Reports may list proxies that carry credentials; owner-only.
		f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		w = newText(output)
	}

	if cfg.ReportFile != "" && (cfg.JSONReport || cfg.MarkdownReport) {
		w = report.NewMultiWriter(newText(stdout), w)
	}

	_, err = w.Write(summary)
	return err
}

// workingFileName is used when --save-working names a directory.
func workingFileName(finished time.Time) string {
	return fmt.Sprintf("working_proxies_%d.txt", finished.Unix())
}

// saveWorking writes the working list and returns the path written.
func saveWorking(path string, summary *model.RunSummary) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, workingFileName(summary.FinishedAt))
	}
	if err := ensureParentDir(path); err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // User-provided output path
	if err != nil {
		return "", fmt.Errorf("failed to create working file: %w", err)
	}
	defer f.Close()

	if _, err := report.NewListWriter(f).Write(summary); err != nil {
		return "", fmt.Errorf("failed to write working file: %w", err)
	}
	return path, nil
}

// saveRun records the run in the history database.
func saveRun(ctx context.Context, cfg *config.Config, summary *model.RunSummary, candidates []model.Candidate, logger *slog.Logger) error {
	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// The run context may already be cancelled; the record is still wanted.
	id, err := db.SaveRun(context.WithoutCancel(ctx), summary, database.RunInfo{
		TargetURL:   cfg.TargetURL,
		Scheme:      cfg.Scheme,
		InputDigest: database.InputDigest(candidates),
	})
	if err != nil {
		return err
	}

	logger.Info("run saved to database", "id", id, "path", db.Path())
	return nil
}

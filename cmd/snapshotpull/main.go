// Command snapshotpull is the offline snapshot-ingest CLI: discover →
// narrow by seeding config → pull → apply relational filter → optional
// redaction → save (or save-incremental) to the on-disk snapshot store.
//
// Usage:
//
//	snapshotpull -config seed.yaml -service github -profile demo -http http://127.0.0.1:9000
//	snapshotpull -config seed.yaml -service github -profile demo -sqlite ./github.db
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"
	"gopkg.in/yaml.v3"

	"github.com/islo-labs/doubleagent-sub000/internal/connector"
	"github.com/islo-labs/doubleagent-sub000/internal/connector/httpsource"
	"github.com/islo-labs/doubleagent-sub000/internal/connector/sqlitesource"
	"github.com/islo-labs/doubleagent-sub000/internal/redact"
	"github.com/islo-labs/doubleagent-sub000/internal/relfilter"
	"github.com/islo-labs/doubleagent-sub000/internal/safeclient"
	"github.com/islo-labs/doubleagent-sub000/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to a relational-filter/seeding YAML config")
	service := flag.String("service", "", "service name recorded in the snapshot manifest")
	profile := flag.String("profile", "default", "profile name recorded in the snapshot manifest")
	httpBase := flag.String("http", "", "pull from an HTTP StreamSource at this base URL")
	sqlitePath := flag.String("sqlite", "", "pull from a local SQLite file StreamSource")
	allowPrivate := flag.Bool("allow-private", false, "permit the HTTP source to target private/loopback hosts")
	redactFlag := flag.Bool("redact", false, "anonymize PII before saving")
	incremental := flag.Bool("incremental", false, "merge into an existing snapshot instead of overwriting it")
	snapshotsDir := flag.String("snapshots-dir", defaultSnapshotsDir(), "root directory for the snapshot store")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *service == "" {
		fmt.Fprintln(os.Stderr, "snapshotpull: -service is required")
		os.Exit(1)
	}
	if *httpBase == "" && *sqlitePath == "" {
		fmt.Fprintln(os.Stderr, "snapshotpull: one of -http or -sqlite is required")
		os.Exit(1)
	}

	if err := run(ctx, logger, runOpts{
		configPath:   *configPath,
		service:      *service,
		profile:      *profile,
		httpBase:     *httpBase,
		sqlitePath:   *sqlitePath,
		allowPrivate: *allowPrivate,
		redact:       *redactFlag,
		incremental:  *incremental,
		snapshotsDir: *snapshotsDir,
	}); err != nil {
		if ctx.Err() != nil {
			logger.Warn("snapshotpull: interrupted")
			os.Exit(130)
		}
		logger.Error("snapshotpull: fatal", "error", err)
		os.Exit(1)
	}
}

type runOpts struct {
	configPath   string
	service      string
	profile      string
	httpBase     string
	sqlitePath   string
	allowPrivate bool
	redact       bool
	incremental  bool
	snapshotsDir string
}

func run(ctx context.Context, logger *slog.Logger, opts runOpts) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	source, closeSource, err := openSource(opts)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if closeSource != nil {
		defer closeSource()
	}

	conn := connector.New(source, logger)

	streamNames, err := conn.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	logger.Info("discovered streams", "count", len(streamNames))

	if len(cfg.SeedStreams) == 0 {
		// No seeding config: treat every discovered stream as an
		// unlimited root seed so the filter is a pass-through instead
		// of discarding everything (relfilter.Apply only ever keeps
		// what a seed stream reaches).
		cfg.SeedStreams = passthroughSeeds(streamNames)
	}

	// Narrow the discovered streams to those the seeding config names,
	// as a root seed or as a follow rule's child: a followed child that
	// isn't itself a seed still needs its records pulled so
	// relfilter.Apply can select from them.
	wanted := map[string]bool{}
	for _, seed := range cfg.SeedStreams {
		wanted[seed.Stream] = true
		for _, rule := range seed.Follow {
			wanted[rule.ChildStream] = true
		}
	}
	var selected []string
	for _, name := range streamNames {
		if wanted[name] {
			selected = append(selected, name)
		}
	}
	pulled, err := conn.Pull(ctx, selected, nil, nil)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	filtered := relfilter.Apply(pulled, cfg)

	var finalResources snapshot.ResourceSet = filtered
	redacted := false
	if opts.redact {
		r := redact.New(redact.DefaultPolicy())
		out := snapshot.ResourceSet{}
		for typ, records := range filtered {
			copied := make([]map[string]any, 0, len(records))
			for _, rec := range records {
				copied = append(copied, r.Redact(rec).(map[string]any))
			}
			out[typ] = copied
		}
		finalResources = out
		redacted = true
	}

	store := snapshot.New(opts.snapshotsDir)
	connectorName := opts.httpBase
	if connectorName == "" {
		connectorName = "sqlite:" + opts.sqlitePath
	}

	var dir string
	if opts.incremental {
		dir, err = store.SaveIncremental(opts.service, opts.profile, finalResources, connectorName, redacted)
	} else {
		dir, err = store.Save(opts.service, opts.profile, finalResources, connectorName, redacted)
	}
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	logger.Info("snapshot written", "dir", dir, "streams", len(finalResources))
	return nil
}

func openSource(opts runOpts) (connector.StreamSource, func(), error) {
	if opts.sqlitePath != "" {
		src, err := sqlitesource.Open(opts.sqlitePath, false)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	}

	client := safeclient.New(safeclient.Config{
		AllowPrivate:     opts.allowPrivate,
		StrictCompliance: os.Getenv("DOUBLEAGENT_COMPLIANCE_MODE") == "strict",
	})
	return httpsource.New(client, opts.httpBase), nil, nil
}

func loadConfig(path string) (relfilter.Config, error) {
	if path == "" {
		return relfilter.Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return relfilter.Config{}, err
	}

	var cfg relfilter.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return relfilter.Config{}, fmt.Errorf("parse YAML: %w", err)
	}
	return cfg, nil
}

func passthroughSeeds(streamNames []string) []relfilter.SeedStream {
	seeds := make([]relfilter.SeedStream, 0, len(streamNames))
	for _, name := range streamNames {
		seeds = append(seeds, relfilter.SeedStream{Stream: name})
	}
	return seeds
}

func defaultSnapshotsDir() string {
	if dir := os.Getenv("DOUBLEAGENT_SNAPSHOTS_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.doubleagent/snapshots"
	}
	return home + "/.doubleagent/snapshots"
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/tidegrove/galleria/internal/backoff"
	"github.com/tidegrove/galleria/internal/cache"
	"github.com/tidegrove/galleria/internal/catalog"
	"github.com/tidegrove/galleria/internal/config"
	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/fetch"
	"github.com/tidegrove/galleria/internal/gallery"
	"github.com/tidegrove/galleria/internal/loader"
	"github.com/tidegrove/galleria/internal/log"
	"github.com/tidegrove/galleria/internal/search"
	"github.com/tidegrove/galleria/internal/store"
	"github.com/tidegrove/galleria/internal/telemetry"
	"github.com/tidegrove/galleria/internal/tui"
	"github.com/tidegrove/galleria/internal/viewport"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var showVersion bool
	var catalogPath string
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&catalogPath, "catalog", "", "catalog manifest (.json) or gallery markup (.html)")
	flag.Parse()

	if showVersion {
		fmt.Printf("galleria %s\n", Version)
		return
	}

	if err := run(catalogPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(catalogPath string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("galleria needs an interactive terminal")
	}
	if catalogPath == "" {
		return fmt.Errorf("no catalog given; pass -catalog <manifest.json|gallery.html>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.Setup(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.Null()
	}
	slog.SetDefault(logger)
	logger.Info("starting galleria", "version", Version)

	cat, err := loadCatalog(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	logger.Info("catalog loaded", "items", cat.Len(), "categories", len(cat.Categories()))

	// Cache tiers. A broken durable tier degrades to memory-only.
	durable, err := cache.OpenDurable(cfg.Cache.Dir, cfg.Cache.Version, cfg.Cache.DurableCeilingBytes())
	if err != nil {
		logger.Warn("durable tier unavailable, running memory-only", "error", err)
		durable = nil
	}
	engine := cache.NewEngine(cache.NewFastTier(cfg.Cache.FastCeilingBytes()), durable, logger)
	defer engine.Close()

	// Position store shares the durable directory, scoped to the catalog.
	positions, err := store.Open(cfg.Cache.Dir, catalogPath)
	if err != nil {
		return fmt.Errorf("failed to open position store: %w", err)
	}
	defer positions.Close()

	tracker := viewport.New(viewport.Options{
		MinItemWidth:    cfg.Viewport.MinItemWidth,
		Gap:             cfg.Viewport.Gap,
		NearThresholdPx: cfg.Viewport.NearThresholdPx,
		OverscanRows:    cfg.Viewport.OverscanRows,
	})
	tracker.Resize(1280, 800)

	monitor := telemetry.NewMonitor(telemetry.Options{
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ReportInterval: cfg.Telemetry.ReportInterval,
		HistorySize:    cfg.Telemetry.HistorySize,
	}, logger)
	monitor.Start()
	defer monitor.Close()

	// Media rides the standard transport behind the caching interceptor.
	interceptor := cache.NewInterceptor(http.DefaultTransport, logger)
	defer interceptor.Close()
	fetcher := fetch.NewClient(interceptor, cfg.Loader.FetchTimeout, logger)

	signals := func() (domain.NetworkSignal, domain.ViewportSnapshot, domain.DeviceHint) {
		return domain.NetworkSignal{Speed: domain.SpeedUnknown}, tracker.Snapshot(), domain.DeviceHint{}
	}
	ld := loader.New(fetcher, engine, signals, logger).
		WithConcurrency(cfg.Loader.Concurrency)
	defer ld.Close()

	surface := tui.NewSurface()
	g := gallery.New(gallery.Deps{
		Catalog:   cat,
		Loader:    ld,
		Cache:     engine,
		Tracker:   tracker,
		Surface:   surface,
		Positions: positions,
		Monitor:   monitor,
		Policy:    retryPolicy(cfg.Gallery),
	}, cfg.Gallery, logger)
	defer g.Close()

	searchSvc := search.NewService(cat, logger)
	model := tui.NewModel(g, surface, cat, searchSvc, monitor, monitor.Subscribe(), logger)

	p := tea.NewProgram(model, tea.WithAltScreen())
	logger.Info("starting TUI")
	if _, err := p.Run(); err != nil {
		logger.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}

	logger.Info("shutting down")
	return nil
}

func loadCatalog(path string) (*domain.Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return catalog.ParseHTML(f)
	default:
		return catalog.LoadFile(path)
	}
}

func retryPolicy(cfg config.GalleryConfig) *backoff.Policy {
	p := backoff.New()
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryBaseDelay > 0 {
		p.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryMaxDelay > 0 {
		p.MaxDelay = cfg.RetryMaxDelay
	}
	return p
}

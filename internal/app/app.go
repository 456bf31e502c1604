package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-advisor/internal/alerting"
	"price-advisor/internal/classifier"
	"price-advisor/internal/config"
	"price-advisor/internal/engine"
	"price-advisor/internal/logging"
	"price-advisor/internal/scheduler"
	"price-advisor/internal/server"
	"price-advisor/internal/service"
	"price-advisor/internal/storage"
	"price-advisor/internal/version"
)

const shutdownTimeout = 10 * time.Second

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newPredictor() engine.Predictor {
	if !a.Config.Classifier.Enabled {
		return nil
	}
	return classifier.NewClient(classifier.Options{
		BaseURL:   a.Config.Classifier.BaseURL,
		Timeout:   a.Config.Classifier.RequestTimeout,
		UserAgent: a.Config.Classifier.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openRepo(ctx context.Context) (storage.Repository, error) {
	repo, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("driver", a.Config.Database.Driver).Msg("storage opened")
	return repo, nil
}

func (a *App) newAdvisor(repo storage.Repository, metrics *service.Metrics) (*service.Advisor, error) {
	eng, err := engine.New(a.Config.Engine)
	if err != nil {
		return nil, err
	}
	tiers, err := a.Config.NotifyTiers()
	if err != nil {
		return nil, err
	}

	return service.New(eng, repo, a.newPredictor(), a.newNotifier(), metrics, service.Options{
		ForecastThreshold: a.Config.Classifier.Threshold,
		WatchItems:        a.Config.Watch.Items,
		NotifyTiers:       tiers,
		Channels:          a.Config.Alerting.Channels,
		AlertsOn:          a.Config.Alerting.Enabled,
		Cooldown:          a.Config.Alerting.Cooldown,
		LockKey:           a.Config.Database.AdvisoryLockKey,
		SweepLimit:        a.Config.Server.ListLimit,
	}, a.Logger), nil
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Watch.Interval,
		AlignToStart: a.Config.Watch.AlignToBucket,
		StartupDelay: a.Config.Watch.StartupDelay,
		Cron:         a.Config.Watch.Cron,
	}, a.Logger)
}

// ServeOptions configure the serve command.
type ServeOptions struct {
	// Watch also runs the re-evaluation loop in the same process.
	Watch bool
}

// Serve runs the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	advisor, err := a.newAdvisor(repo, service.NewMetrics(registry))
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if opts.Watch {
		if sched, err = a.newScheduler(); err != nil {
			return err
		}
	}

	srv := server.New(a.Config.Server, advisor, registry, a.Logger)
	a.Logger.Info().Str("version", version.Summary()).Bool("watch", opts.Watch).Msg("starting price advisor")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
	if sched != nil {
		g.Go(func() error {
			return ignoreCanceled(sched.Run(gctx, advisor.Sweep))
		})
	}

	err = g.Wait()
	a.Logger.Info().Msg("server stopped")
	return err
}

// Watch runs the periodic re-evaluation loop until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	advisor, err := a.newAdvisor(repo, nil)
	if err != nil {
		return err
	}
	if a.Config.Alerting.Enabled && a.newNotifier() == nil {
		a.Logger.Warn().Msg("alerting enabled but no channel configured; sweeps will not notify")
	}

	a.Logger.Info().Int("items", len(a.Config.Watch.Items)).Msg("starting watch loop")
	if err := ignoreCanceled(sched.Run(ctx, advisor.Sweep)); err != nil {
		a.Logger.Error().Err(err).Msg("watch loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}

// Analyze prints the recommendation for one item as JSON.
func (a *App) Analyze(ctx context.Context, query string, out io.Writer) error {
	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	advisor, err := a.newAdvisor(repo, nil)
	if err != nil {
		return err
	}
	report, err := advisor.Analyze(ctx, query)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"success":   true,
		"game_name": report.Item.Name,
		"analysis":  report.Result,
	})
}

// Batch prints recommendations for several items as JSON.
func (a *App) Batch(ctx context.Context, ids []string, out io.Writer) error {
	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	advisor, err := a.newAdvisor(repo, nil)
	if err != nil {
		return err
	}
	results, err := advisor.AnalyzeBatch(ctx, ids)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"success": true, "results": results})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ExportOptions hold parameters for exporting an item's price history.
type ExportOptions struct {
	Item      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	XLSXPath  string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ImportOptions configure the import job.
type ImportOptions struct {
	Path   string
	DryRun bool
}

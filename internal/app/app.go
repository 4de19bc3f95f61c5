package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"gaswatch/internal/alerting"
	"gaswatch/internal/bot"
	"gaswatch/internal/config"
	"gaswatch/internal/fetcher"
	"gaswatch/internal/metrics"
	"gaswatch/internal/scheduler"
	"gaswatch/internal/storage"
	"gaswatch/internal/tracker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newGasFetcher() *fetcher.GasRPC {
	return fetcher.NewGasRPC(fetcher.GasOptions{Timeout: a.Config.Networks.Timeout}, a.Logger)
}

// newFiatFetcher returns the CoinGecko client, behind Redis when cache.redis_url is set.
// An unreachable Redis degrades to uncached lookups.
func (a *App) newFiatFetcher(ctx context.Context) (fetcher.FiatRateFetcher, func()) {
	cfg := a.Config.Pricing
	upstream := fetcher.NewCoinGecko(fetcher.FiatOptions{
		BaseURL:    cfg.BaseURL,
		VsCurrency: cfg.VsCurrency,
		Timeout:    cfg.Timeout,
		UserAgent:  cfg.UserAgent,
	}, a.Logger)

	if a.Config.Cache.RedisURL == "" {
		return upstream, func() {}
	}
	client, err := fetcher.ConnectRedis(ctx, a.Config.Cache.RedisURL)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; fiat rates will not be cached")
		return upstream, func() {}
	}
	return fetcher.NewCachedFiat(upstream, client, a.Config.Cache.TTL, cfg.VsCurrency, a.Logger), func() { _ = client.Close() }
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Telegram
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil
	}
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

func (a *App) openStore() *storage.FileStore {
	return storage.NewFileStore(a.Config.History.Path)
}

func (a *App) newTracker(gas fetcher.GasPriceFetcher, store storage.HistoryStore, notifier alerting.Notifier, m *metrics.Metrics) (*tracker.Tracker, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	return tracker.New(tracker.Options{
		RPCURL:      a.Config.Networks.Mainnet.RPCURL,
		Retention:   a.Config.History.Retention,
		DailyWindow: a.Config.History.DailyWindow,
		Location:    loc,
		DailyChart:  a.Config.Daily.Chart,
	}, gas, store, notifier, m, a.Logger), nil
}

func (a *App) newBot(username string, gas fetcher.GasPriceFetcher, fiat fetcher.FiatRateFetcher, notifier alerting.Notifier) (*bot.Bot, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	networks := make(map[string]bot.Network, 3)
	for key, n := range map[string]config.NetworkConfig{
		"mainnet":  a.Config.Networks.Mainnet,
		"arbitrum": a.Config.Networks.Arbitrum,
		"optimism": a.Config.Networks.Optimism,
	} {
		networks[key] = bot.Network{Label: n.Label, RPCURL: n.RPCURL, ImageURL: n.ImageURL, Emoji: n.Emoji}
	}
	return bot.New(bot.Options{
		Networks:       networks,
		Username:       username,
		Asset:          a.Config.Pricing.Asset,
		GasUnits:       a.Config.Pricing.GasUnits,
		HandlerTimeout: a.Config.Bot.HandlerTimeout,
		Location:       loc,
	}, gas, fiat, notifier, a.Logger), nil
}

// Run executes the long-running tracker, daily report, command bot, and metrics endpoint.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.RequireRuntime(); err != nil {
		return err
	}

	store := a.openStore()
	existing, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("history %s: %w", store.Path(), err)
	}
	a.Logger.Info().Str("path", store.Path()).Int("samples", len(existing)).Msg("history loaded")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	gas := a.newGasFetcher()
	defer gas.Close()
	fiat, closeFiat := a.newFiatFetcher(ctx)
	defer closeFiat()
	notifier := a.newNotifier()

	trk, err := a.newTracker(gas, store, notifier, m)
	if err != nil {
		return err
	}

	sampler := scheduler.New(scheduler.Options{
		Name:           "sampler",
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
		Timeout:        a.Config.Scheduler.TickTimeout,
	}, a.Logger)
	daily := scheduler.New(scheduler.Options{
		Name:     "daily",
		Interval: a.Config.Scheduler.DailyInterval,
		Timeout:  a.Config.Scheduler.TickTimeout,
	}, a.Logger)

	var (
		b      *bot.Bot
		poller *bot.Poller
	)
	if a.Config.Bot.Enabled {
		tg := a.Config.Telegram
		poller, err = bot.NewPoller(ctx, tg.BotToken, tg.APIBase, tg.PollTimeout, a.Logger)
		if err != nil {
			return err
		}
		b, err = a.newBot(poller.Username(), gas, fiat, notifier)
		if err != nil {
			return err
		}
	} else {
		a.Logger.Info().Msg("bot.enabled=false; command listener disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sampler.Run(gctx, trk.Tick) })
	g.Go(func() error { return daily.Run(gctx, trk.DailySummary) })
	if b != nil {
		g.Go(func() error { return b.Run(gctx, poller) })
	}

	if addr := a.Config.Metrics.Listen; addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, addr, reg, a.Logger) })
	}

	a.Logger.Info().
		Dur("interval", sampler.Interval()).
		Dur("daily_interval", daily.Interval()).
		Msg("starting gas tracker")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("gas tracker stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

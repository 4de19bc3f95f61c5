package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"gaswatch/internal/alerting"
	"gaswatch/internal/fetcher"
)

// DefaultHandlerTimeout bounds one command when Options.HandlerTimeout is unset.
const DefaultHandlerTimeout = 20 * time.Second

// FetchFailedText is sent when a query handler could not reach an upstream.
const FetchFailedText = "⚠️ Could not fetch gas price right now. Please try again later."

// ErrUnknownNetwork is returned for a query against a network without an RPC endpoint.
var ErrUnknownNetwork = errors.New("network not configured")

// Network describes a chain answered by a price query command.
type Network struct {
	Label    string
	RPCURL   string
	ImageURL string
	Emoji    string
}

// Options configure the command bot.
type Options struct {
	Networks       map[string]Network
	Username       string // own @handle; commands suffixed with another bot's name are ignored
	Asset          string
	GasUnits       int64
	HandlerTimeout time.Duration
	Location       *time.Location
	Now            func() time.Time
}

// HandlerFunc answers one command; the returned message is addressed by the caller.
type HandlerFunc func(ctx context.Context) (alerting.Message, error)

// Command is one entry of the dispatch table.
type Command struct {
	Name        string
	Description string
	Handle      HandlerFunc
}

// Bot routes chat commands to handlers and replies through the notifier.
type Bot struct {
	opts     Options
	gas      fetcher.GasPriceFetcher
	fiat     fetcher.FiatRateFetcher
	notifier alerting.Notifier
	logger   zerolog.Logger
	commands map[string]Command
	order    []string
	wg       sync.WaitGroup
}

// New wires the static command table: /mainnet, /arbitrum, /optimism, /start, /help.
func New(opts Options, gas fetcher.GasPriceFetcher, fiat fetcher.FiatRateFetcher, notifier alerting.Notifier, logger zerolog.Logger) *Bot {
	if opts.GasUnits <= 0 {
		opts.GasUnits = DefaultGasUnits
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Asset == "" {
		opts.Asset = "ethereum"
	}

	b := &Bot{
		opts:     opts,
		gas:      gas,
		fiat:     fiat,
		notifier: notifier,
		logger:   logger.With().Str("component", "bot").Logger(),
		commands: make(map[string]Command),
	}

	b.register(Command{Name: "mainnet", Description: "Ethereum gas tiers", Handle: b.handleMainnet})
	b.register(Command{Name: "arbitrum", Description: "Arbitrum gas price", Handle: b.networkHandler("arbitrum")})
	b.register(Command{Name: "optimism", Description: "Optimism gas price", Handle: b.networkHandler("optimism")})
	b.register(Command{Name: "start", Description: "Welcome message", Handle: b.handleStart})
	b.register(Command{Name: "help", Description: "ℹ️ Show help menu", Handle: b.handleHelp})
	return b
}

func (b *Bot) register(cmd Command) {
	b.commands[cmd.Name] = cmd
	b.order = append(b.order, cmd.Name)
}

// Commands lists the registered command names in registration order.
func (b *Bot) Commands() []string {
	return append([]string(nil), b.order...)
}

// ParseCommand extracts the command name and the optional @bot suffix from message text.
// "/Mainnet@gas_bot extra" yields ("mainnet", "gas_bot").
func ParseCommand(text string) (name, target string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", "", false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if idx := strings.IndexByte(name, '@'); idx >= 0 {
		name, target = name[:idx], name[idx+1:]
	}
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), target, true
}

// addressedTo reports whether a command suffixed with @target is meant for this bot.
// Bare commands always are; a suffix must match Options.Username.
func (b *Bot) addressedTo(target string) bool {
	if target == "" {
		return true
	}
	return b.opts.Username != "" && strings.EqualFold(target, strings.TrimPrefix(b.opts.Username, "@"))
}

// Dispatch handles update on its own goroutine. Wait blocks until in-flight handlers finish.
func (b *Bot) Dispatch(ctx context.Context, update Update) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.HandleUpdate(ctx, update)
	}()
}

// Wait blocks until every dispatched handler has returned.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate answers one update synchronously. Non-command text and unknown commands are ignored.
func (b *Bot) HandleUpdate(ctx context.Context, update Update) {
	if update.Message == nil {
		return
	}
	name, target, ok := ParseCommand(update.Message.Text)
	if !ok {
		return
	}
	if !b.addressedTo(target) {
		b.logger.Debug().Str("command", name).Str("target", target).Msg("ignoring command for another bot")
		return
	}
	cmd, ok := b.commands[name]
	if !ok {
		b.logger.Debug().Str("command", name).Msg("ignoring unknown command")
		return
	}

	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
	logger := b.logger.With().Str("command", name).Str("chat_id", chatID).Logger()

	ctx, cancel := context.WithTimeout(ctx, b.opts.HandlerTimeout)
	defer cancel()

	msg, err := cmd.Handle(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("command handler failed")
		msg = alerting.Message{Text: FetchFailedText}
	}
	msg.ChatID = chatID

	if b.notifier == nil {
		return
	}
	if err := b.notifier.Notify(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("failed to send reply")
		return
	}
	logger.Debug().Msg("reply sent")
}

// Run long-polls poller until ctx ends, then waits for in-flight handlers.
func (b *Bot) Run(ctx context.Context, poller *Poller) error {
	b.logger.Info().Strs("commands", b.order).Msg("bot polling started")
	err := poller.Run(ctx, func(u Update) { b.Dispatch(ctx, u) })
	b.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bot) handleMainnet(ctx context.Context) (alerting.Message, error) {
	rate, err := b.fiat.FetchRate(ctx, b.opts.Asset)
	if err != nil {
		return alerting.Message{}, fmt.Errorf("fetch %s rate: %w", b.opts.Asset, err)
	}

	var sb strings.Builder
	sb.WriteString("Ethereum Gas Fee (typical tx)\n\n")
	for _, tier := range MainnetTiers {
		usd := EstimateUSD(tier.Gwei, rate, b.opts.GasUnits)
		fmt.Fprintf(&sb, "%s %s: %s gwei ($%s)\n", tier.Emoji, tier.Label, tier.Gwei.String(), usd.StringFixed(2))
	}
	fmt.Fprintf(&sb, "\n🕒 %s", alerting.FormatTime(b.opts.Now(), b.opts.Location))
	return alerting.Message{Text: sb.String()}, nil
}

func (b *Bot) networkHandler(key string) HandlerFunc {
	return func(ctx context.Context) (alerting.Message, error) {
		network, ok := b.opts.Networks[key]
		if !ok || network.RPCURL == "" {
			return alerting.Message{}, fmt.Errorf("%s: %w", key, ErrUnknownNetwork)
		}

		var (
			gwei decimal.Decimal
			rate decimal.Decimal
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			gwei, err = b.gas.FetchGasPrice(gctx, network.RPCURL)
			if err != nil {
				return fmt.Errorf("fetch %s gas price: %w", key, err)
			}
			return nil
		})
		g.Go(func() error {
			var err error
			rate, err = b.fiat.FetchRate(gctx, b.opts.Asset)
			if err != nil {
				return fmt.Errorf("fetch %s rate: %w", b.opts.Asset, err)
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return alerting.Message{}, err
		}

		label := network.Label
		if label == "" {
			label = strings.ToUpper(key[:1]) + key[1:]
		}
		usd := EstimateUSD(gwei, rate, b.opts.GasUnits)
		caption := fmt.Sprintf("%s %s Gas Price\n%s gwei ($%s)\n🕒 %s",
			network.Emoji, label, gwei.Round(3).String(), usd.StringFixed(2),
			alerting.FormatTime(b.opts.Now(), b.opts.Location))

		return alerting.Message{Text: strings.TrimSpace(caption), PhotoURL: network.ImageURL}, nil
	}
}

// Greeting picks the salutation for the local hour.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h < 12:
		return "🌅 Good morning!"
	case h < 18:
		return "🌤 Good afternoon!"
	default:
		return "🌙 Good evening!"
	}
}

func (b *Bot) handleStart(ctx context.Context) (alerting.Message, error) {
	now := b.opts.Now().In(b.opts.Location)
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s 👋\nI'm your Ethereum gas tracker bot.\n🕒 Current time: %s\nAvailable commands:\n",
		Greeting(now), alerting.FormatTime(now, b.opts.Location))
	b.writeCommandList(&sb, "start")
	return alerting.Message{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

func (b *Bot) handleHelp(ctx context.Context) (alerting.Message, error) {
	var sb strings.Builder
	sb.WriteString("ℹ️ Help Menu\nAvailable commands:\n")
	b.writeCommandList(&sb, "start", "help")
	return alerting.Message{Text: strings.TrimRight(sb.String(), "\n")}, nil
}

func (b *Bot) writeCommandList(sb *strings.Builder, skip ...string) {
	omit := make(map[string]bool, len(skip))
	for _, name := range skip {
		omit[name] = true
	}
	for _, name := range b.order {
		if omit[name] {
			continue
		}
		fmt.Fprintf(sb, "/%s – %s\n", name, b.commands[name].Description)
	}
}

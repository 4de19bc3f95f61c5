package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Update is the subset of a Telegram update the bot consumes.
type Update struct {
	UpdateID int64
	Message  *IncomingMessage
}

// IncomingMessage is a chat message addressed to the bot.
type IncomingMessage struct {
	MessageID int64
	Date      int64
	Text      string
	Chat      struct {
		ID int64
	}
}

func fromAPIUpdate(u tgbotapi.Update) Update {
	out := Update{UpdateID: int64(u.UpdateID)}
	if u.Message == nil {
		return out
	}
	msg := &IncomingMessage{
		MessageID: int64(u.Message.MessageID),
		Date:      int64(u.Message.Date),
		Text:      u.Message.Text,
	}
	if u.Message.Chat != nil {
		msg.Chat.ID = u.Message.Chat.ID
	}
	out.Message = msg
	return out
}

// ctxDoer binds the poll context to requests issued by tgbotapi, which has no context support.
type ctxDoer struct {
	client *http.Client

	mu  sync.Mutex
	ctx context.Context
}

func (d *ctxDoer) bind(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()
}

func (d *ctxDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return d.client.Do(req)
}

// Poller long-polls getUpdates through telegram-bot-api and tracks the acknowledged offset.
type Poller struct {
	api         *tgbotapi.BotAPI
	doer        *ctxDoer
	pollTimeout time.Duration
	logger      zerolog.Logger
	offset      int
}

// NewPoller authenticates with getMe and returns a poller for the bot behind botToken.
func NewPoller(ctx context.Context, botToken, baseURL string, pollTimeout time.Duration, logger zerolog.Logger) (*Poller, error) {
	if pollTimeout < 0 {
		pollTimeout = 0
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	doer := &ctxDoer{client: &http.Client{Timeout: pollTimeout + 10*time.Second}}
	doer.bind(ctx)
	defer doer.bind(nil)

	endpoint := strings.TrimRight(baseURL, "/") + "/bot%s/%s"
	api, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, doer)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe: %w", err)
	}

	p := &Poller{
		api:         api,
		doer:        doer,
		pollTimeout: pollTimeout,
		logger:      logger.With().Str("component", "bot_poller").Str("bot", api.Self.UserName).Logger(),
	}
	return p, nil
}

// Username is the bot's own @handle as reported by getMe.
func (p *Poller) Username() string {
	return p.api.Self.UserName
}

// Poll fetches the next batch of updates and advances the offset past them.
func (p *Poller) Poll(ctx context.Context) ([]Update, error) {
	p.doer.bind(ctx)
	defer p.doer.bind(nil)

	cfg := tgbotapi.NewUpdate(p.offset)
	cfg.Timeout = int(p.pollTimeout / time.Second)
	cfg.AllowedUpdates = []string{"message"}

	raw, err := p.api.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}

	updates := make([]Update, 0, len(raw))
	for _, u := range raw {
		if u.UpdateID >= p.offset {
			p.offset = u.UpdateID + 1
		}
		updates = append(updates, fromAPIUpdate(u))
	}
	return updates, nil
}

// Run polls until ctx is cancelled, handing each update to dispatch. Errors back off up to 30s.
func (p *Poller) Run(ctx context.Context, dispatch func(Update)) error {
	backoff := time.Second
	for {
		updates, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			dispatch(u)
		}
	}
}

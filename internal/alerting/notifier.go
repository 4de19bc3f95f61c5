package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Message 封装一条待推送的消息。Photo 或 PhotoURL 非空时以图片发送, Text 作为说明文字。
type Message struct {
	ChatID    string
	Text      string
	PhotoURL  string
	Photo     []byte
	PhotoName string
}

// IsPhoto reports whether the message carries an image.
func (m Message) IsPhoto() bool {
	return len(m.Photo) > 0 || m.PhotoURL != ""
}

// Notifier 定义消息输送接口。
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 推送器, chatID 为默认接收方。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage 或 sendPhoto API。
func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	chatID := msg.ChatID
	if chatID == "" {
		chatID = n.chatID
	}

	var (
		req *http.Request
		err error
	)
	switch {
	case len(msg.Photo) > 0:
		req, err = n.uploadPhotoRequest(ctx, chatID, msg)
	case msg.PhotoURL != "":
		req, err = n.jsonRequest(ctx, "sendPhoto", map[string]string{
			"chat_id": chatID,
			"photo":   msg.PhotoURL,
			"caption": msg.Text,
		})
	default:
		req, err = n.jsonRequest(ctx, "sendMessage", map[string]string{
			"chat_id": chatID,
			"text":    msg.Text,
		})
	}
	if err != nil {
		return err
	}

	if err := n.do(req); err != nil {
		return err
	}

	n.logger.Info().Str("chat_id", chatID).Bool("photo", msg.IsPhoto()).Msg("消息已发送 (Telegram)")
	return nil
}

func (n *TelegramNotifier) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.botToken, method)
}

func (n *TelegramNotifier) jsonRequest(ctx context.Context, method string, payload map[string]string) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (n *TelegramNotifier) uploadPhotoRequest(ctx context.Context, chatID string, msg Message) (*http.Request, error) {
	name := msg.PhotoName
	if name == "" {
		name = "chart.png"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("chat_id", chatID); err != nil {
		return nil, fmt.Errorf("write chat_id field: %w", err)
	}
	if msg.Text != "" {
		if err := form.WriteField("caption", msg.Text); err != nil {
			return nil, fmt.Errorf("write caption field: %w", err)
		}
	}
	part, err := form.CreateFormFile("photo", name)
	if err != nil {
		return nil, fmt.Errorf("create photo part: %w", err)
	}
	if _, err := part.Write(msg.Photo); err != nil {
		return nil, fmt.Errorf("write photo part: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint("sendPhoto"), &body)
	if err != nil {
		return nil, fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return req, nil
}

func (n *TelegramNotifier) do(req *http.Request) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
		}
	}
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)

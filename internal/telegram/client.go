// Package telegram is the Bot API transport used by the relay and the outbound gateway.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tgrelay/internal/domain"
	"tgrelay/internal/logging"
	"tgrelay/internal/observability"
)

const DefaultAPIBase = "https://api.telegram.org"

type Options struct {
	Token string
	// APIBase overrides https://api.telegram.org, e.g. to point at mock-telegram.
	APIBase string
	HTTP    *http.Client
	Logger  *slog.Logger
}

type Client struct {
	bot          *tgbotapi.BotAPI
	http         *http.Client
	fileEndpoint string
	logger       *slog.Logger
}

// New connects to the Bot API; it calls getMe, so a bad token fails here.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	httpClient := opts.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, base+"/bot%s/%s", httpClient)
	if err != nil {
		return nil, &domain.TransportError{Op: "getMe", Err: err}
	}
	return &Client{
		bot:          bot,
		http:         httpClient,
		fileEndpoint: base + "/file/bot%s/%s",
		logger:       logging.Component(opts.Logger, "telegram"),
	}, nil
}

// Username is the bot's @handle as reported by getMe.
func (c *Client) Username() string { return c.bot.Self.UserName }

func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return c.send(ctx, "sendMessage", msg)
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, name string, data []byte, caption string) (int64, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	photo.Caption = caption
	return c.send(ctx, "sendPhoto", photo)
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) (int64, error) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	return c.send(ctx, "sendDocument", doc)
}

func (c *Client) send(ctx context.Context, method string, chattable tgbotapi.Chattable) (int64, error) {
	sent, err := call(ctx, method, func() (tgbotapi.Message, error) {
		return c.bot.Send(chattable)
	})
	if err != nil {
		return 0, &domain.TransportError{Op: method, Err: err}
	}
	return int64(sent.MessageID), nil
}

// Download fetches a file by id. Both steps are idempotent reads, so transient
// failures are retried with Backoff.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		data, err := c.download(ctx, fileID)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !ShouldRetry(err) {
			break
		}
		c.logger.Warn("file download failed, retrying", "err", err, "file_id", fileID, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return nil, &domain.TransportError{Op: "download", Err: ctx.Err()}
		case <-time.After(Backoff(attempt)):
		}
	}
	return nil, &domain.TransportError{Op: "download", Err: lastErr}
}

func (c *Client) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := call(ctx, "getFile", func() (tgbotapi.File, error) {
		return c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	})
	if err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no path", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(c.fileEndpoint, c.bot.Token, file.FilePath), nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	observability.TelegramLatency.WithLabelValues("file").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// SetWebhook registers url with Telegram. secret is echoed back by Telegram in
// the X-Telegram-Bot-Api-Secret-Token header of every update.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = url
	params.AddNonEmpty("secret_token", secret)
	_, err := call(ctx, "setWebhook", func() (*tgbotapi.APIResponse, error) {
		return c.bot.MakeRequest("setWebhook", params)
	})
	if err != nil {
		return &domain.TransportError{Op: "setWebhook", Err: err}
	}
	return nil
}

// call runs a blocking Bot API request and returns early when ctx is done.
// The library has no context support; the HTTP client timeout bounds the abandoned request.
func call[T any](ctx context.Context, method string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	start := time.Now()
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		observability.TelegramLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

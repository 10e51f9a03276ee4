// Package telegram delivers pipeline output to chat users through the
// Bot API. The command surface of the bot lives outside this service;
// only the narrow notifier capability is implemented here.
package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

const defaultAPIBase = "https://api.telegram.org"

// Client implements domain.Notifier over the Bot API.
type Client struct {
	token   string
	apiBase string
	httpc   *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithAPIBase overrides the Bot API base URL (tests).
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

// New constructs a Client for the given bot token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		apiBase: defaultAPIBase,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

// SendMessage sends a plain text message to a chat.
func (c *Client) SendMessage(ctx domain.Context, tgUserID int64, text string) error {
	body, err := json.Marshal(map[string]any{"chat_id": tgUserID, "text": text})
	if err != nil {
		return fmt.Errorf("op=telegram.send_message: %w", err)
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendMessage"), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req)
	}
	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return fmt.Errorf("op=telegram.send_message: %w", err)
	}
	return nil
}

// SendDocument uploads a document with caption and an optional inline
// keyboard.
func (c *Client) SendDocument(ctx domain.Context, tgUserID int64, doc domain.Document) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", strconv.FormatInt(tgUserID, 10)); err != nil {
		return fmt.Errorf("op=telegram.send_document: %w", err)
	}
	if doc.Caption != "" {
		if err := mw.WriteField("caption", doc.Caption); err != nil {
			return fmt.Errorf("op=telegram.send_document: %w", err)
		}
	}
	if len(doc.Keyboard) > 0 {
		markup, err := json.Marshal(replyMarkup(doc.Keyboard))
		if err != nil {
			return fmt.Errorf("op=telegram.send_document: %w", err)
		}
		if err := mw.WriteField("reply_markup", string(markup)); err != nil {
			return fmt.Errorf("op=telegram.send_document: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("document", doc.Filename)
	if err != nil {
		return fmt.Errorf("op=telegram.send_document: %w", err)
	}
	if _, err := fw.Write(doc.Data); err != nil {
		return fmt.Errorf("op=telegram.send_document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("op=telegram.send_document: %w", err)
	}

	payload := buf.Bytes()
	contentType := mw.FormDataContentType()
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		return c.do(req)
	}
	if err := backoff.Retry(op, c.newBackoff(ctx)); err != nil {
		return fmt.Errorf("op=telegram.send_document: %w", err)
	}
	return nil
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: telegram status %d: %s", domain.ErrUpstream, resp.StatusCode, b)
	}
	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("%w: telegram status %d: %s", domain.ErrUpstream, resp.StatusCode, b))
	}
	return nil
}

func (c *Client) newBackoff(ctx domain.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 20 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

func replyMarkup(rows [][]domain.InlineButton) map[string]any {
	kb := make([][]inlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		r := make([]inlineKeyboardButton, 0, len(row))
		for _, b := range row {
			r = append(r, inlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		kb = append(kb, r)
	}
	return map[string]any{"inline_keyboard": kb}
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTelegramAPIBase is the Telegram Bot API root
const DefaultTelegramAPIBase = "https://api.telegram.org"

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string
	APIBase  string
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// TelegramSender uploads roster workbooks to Telegram chats
type TelegramSender struct {
	botToken   string
	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTelegramSender creates a Telegram sender
func NewTelegramSender(config TelegramConfig, logger *slog.Logger) *TelegramSender {
	apiBase := strings.TrimRight(config.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultTelegramAPIBase
	}
	return &TelegramSender{
		botToken: config.BotToken,
		apiBase:  apiBase,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With("component", "telegram_sender"),
	}
}

// ValidateTelegramConfig validates the Telegram bot configuration
func ValidateTelegramConfig(config TelegramConfig) error {
	if config.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if !strings.Contains(config.BotToken, ":") {
		return fmt.Errorf("telegram bot token is malformed")
	}
	return nil
}

// SendReport sends the workbook at artifactPath to chatID as a document
func (ts *TelegramSender) SendReport(ctx context.Context, chatID, courseID, artifactPath string) error {
	caption := fmt.Sprintf("Attendance report for <b>%s</b>", courseID)
	return ts.SendDocument(ctx, chatID, artifactPath, caption)
}

// SendDocument uploads a file with an optional HTML caption
func (ts *TelegramSender) SendDocument(ctx context.Context, chatID, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write document data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.methodURL("sendDocument"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send document: %w", err)
	}
	defer resp.Body.Close()

	if err := handleResponse(resp); err != nil {
		return err
	}

	ts.logger.Info("document sent", "chat_id", chatID, "file", filepath.Base(path))
	return nil
}

// CheckHealth calls getMe to verify the bot token
func (ts *TelegramSender) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.methodURL("getMe"), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func (ts *TelegramSender) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", ts.apiBase, ts.botToken, method)
}

// SendMessage sends an HTML text message to chatID
func (ts *TelegramSender) SendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.methodURL("sendMessage"), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// Update is one incoming Telegram update
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an incoming chat message
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// Chat identifies the chat a message came from
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// GetUpdates long-polls for updates after offset, waiting up to timeout
func (ts *TelegramSender) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	url := fmt.Sprintf("%s?offset=%d&timeout=%d", ts.methodURL("getUpdates"), offset, int(timeout.Seconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	var updates []Update
	if err := decodeResponse(resp, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) error {
	return decodeResponse(resp, nil)
}

// decodeResponse checks the Telegram envelope and decodes its result into out
func decodeResponse(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}

	if out != nil && len(telegramResp.Result) > 0 {
		if err := json.Unmarshal(telegramResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// Package telegram lets authorized Telegram chats drive attendance sessions
// with bot commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/notify"
	"rollcall/internal/services"
)

// DefaultPollTimeout is the long-poll wait of each getUpdates call
const DefaultPollTimeout = 25 * time.Second

// BotAPI is the subset of the Bot API the handler uses
type BotAPI interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]notify.Update, error)
	SendMessage(ctx context.Context, chatID, text string) error
}

// AttendanceControl starts, stops and lists attendance sessions
type AttendanceControl interface {
	Start(ctx context.Context, p *services.StartPayload) (*services.SessionView, error)
	Stop(ctx context.Context, p *services.StopPayload) error
	List(ctx context.Context) ([]*services.SessionView, error)
}

// CommandHandler handles Telegram bot commands
type CommandHandler struct {
	bot          BotAPI
	attendance   AttendanceControl
	authorized   map[string]bool
	pollTimeout  time.Duration
	retryBackoff time.Duration
	lastUpdateID int64
	logger       *slog.Logger
}

// NewCommandHandler creates a handler that only answers the given chat ids
func NewCommandHandler(bot BotAPI, attendance AttendanceControl, chatIDs []string, logger *slog.Logger) *CommandHandler {
	authorized := make(map[string]bool, len(chatIDs))
	for _, id := range chatIDs {
		if id = strings.TrimSpace(id); id != "" {
			authorized[id] = true
		}
	}
	return &CommandHandler{
		bot:          bot,
		attendance:   attendance,
		authorized:   authorized,
		pollTimeout:  DefaultPollTimeout,
		retryBackoff: 5 * time.Second,
		logger:       logger.With("component", "telegram_commands"),
	}
}

// StartPolling polls for updates until ctx is done
func (ch *CommandHandler) StartPolling(ctx context.Context) error {
	if len(ch.authorized) == 0 {
		return fmt.Errorf("no authorized telegram chats configured")
	}

	ch.logger.Info("starting telegram command polling", "chats", len(ch.authorized))
	for {
		if err := ch.pollUpdates(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			ch.logger.Warn("failed to poll telegram updates", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(ch.retryBackoff):
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	ch.logger.Info("telegram command polling stopped")
	return nil
}

// pollUpdates fetches and processes one batch of updates
func (ch *CommandHandler) pollUpdates(ctx context.Context) error {
	updates, err := ch.bot.GetUpdates(ctx, ch.lastUpdateID+1, ch.pollTimeout)
	if err != nil {
		return err
	}

	for _, update := range updates {
		if update.UpdateID > ch.lastUpdateID {
			ch.lastUpdateID = update.UpdateID
		}
		if update.Message != nil {
			ch.handleMessage(ctx, update.Message)
		}
	}
	return nil
}

// handleMessage processes an incoming message
func (ch *CommandHandler) handleMessage(ctx context.Context, msg *notify.Message) {
	if msg.Chat == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if !ch.authorized[chatID] {
		ch.logger.Warn("ignoring message from unauthorized chat", "chat_id", chatID)
		return
	}

	if !strings.HasPrefix(msg.Text, "/") {
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	// Remove bot username suffix if present (e.g., /status@mybot)
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	ch.logger.Info("processing command", "chat_id", chatID, "command", command)

	var response string
	switch command {
	case "/start", "/help":
		response = helpText
	case "/status":
		response = ch.handleStatus(ctx)
	case "/attend":
		response = ch.handleAttend(ctx, args)
	case "/finish":
		response = ch.handleFinish(ctx, chatID, args)
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", html.EscapeString(command))
	}

	if err := ch.bot.SendMessage(ctx, chatID, response); err != nil {
		ch.logger.Warn("failed to send reply", "chat_id", chatID, "error", err)
	}
}

const helpText = "<b>Attendance commands</b>\n\n" +
	"/attend &lt;course&gt; &lt;hall&gt; - Start taking attendance\n" +
	"/finish &lt;course&gt; [recipient] - Stop and send the roster (default: this chat)\n" +
	"/status - List running sessions"

func (ch *CommandHandler) handleStatus(ctx context.Context) string {
	sessions, err := ch.attendance.List(ctx)
	if err != nil {
		return "Failed to list sessions: " + html.EscapeString(err.Error())
	}
	if len(sessions) == 0 {
		return "No attendance session is running."
	}

	var b strings.Builder
	b.WriteString("<b>Running sessions</b>\n")
	for _, s := range sessions {
		fmt.Fprintf(&b, "\n<b>%s</b> in %s: %s, %d cycles, %d cameras, %d students",
			html.EscapeString(s.CourseID), html.EscapeString(s.HallName), s.State,
			s.Cycles, s.CameraCount, s.SubjectCount)
	}
	return b.String()
}

func (ch *CommandHandler) handleAttend(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "Usage: /attend &lt;course&gt; &lt;hall&gt;"
	}

	view, err := ch.attendance.Start(ctx, &services.StartPayload{CourseID: args[0], HallName: args[1]})
	if err != nil {
		return describeError(err)
	}
	return fmt.Sprintf("Attendance started for <b>%s</b> in %s with %d cameras and %d students.",
		html.EscapeString(view.CourseID), html.EscapeString(view.HallName), view.CameraCount, view.SubjectCount)
}

func (ch *CommandHandler) handleFinish(ctx context.Context, chatID string, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "Usage: /finish &lt;course&gt; [recipient]"
	}

	recipient := notify.TelegramPrefix + chatID
	if len(args) == 2 {
		recipient = args[1]
	}

	if err := ch.attendance.Stop(ctx, &services.StopPayload{CourseID: args[0], Recipient: recipient}); err != nil {
		return describeError(err)
	}
	return fmt.Sprintf("Stopping attendance for <b>%s</b>. The roster will be sent to %s.",
		html.EscapeString(args[0]), html.EscapeString(recipient))
}

func describeError(err error) string {
	var (
		conflict    *services.ConflictError
		notFound    *services.NotFoundError
		unprocessed *services.UnprocessableError
	)
	switch {
	case errors.As(err, &conflict):
		return fmt.Sprintf("Attendance is already running for <b>%s</b>.", html.EscapeString(conflict.ID))
	case errors.As(err, &notFound):
		return fmt.Sprintf("Attendance is not running for <b>%s</b>.", html.EscapeString(notFound.ID))
	case errors.As(err, &unprocessed):
		return html.EscapeString(unprocessed.Message) + "."
	default:
		return "Request failed: " + html.EscapeString(err.Error())
	}
}

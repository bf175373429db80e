package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/dw2kim/job-scheduler/internal/core"
)

// TaskTelegramNotify sends a Telegram message announcing the execution.
const TaskTelegramNotify = "telegram.notify"

// TelegramConfig configures the Telegram executor.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// RatePerSec caps outgoing messages. Zero means 1.
	RatePerSec int
	// APIURL overrides the Bot API endpoint.
	APIURL string
}

// telegramParams is the optional params shape of a telegram.notify task.
type telegramParams struct {
	Text   string `json:"text"`
	ChatID int64  `json:"chatId"`
}

// Telegram sends "Job executed" notifications through the Bot API.
type Telegram struct {
	bot     *tele.Bot
	chatID  int64
	limiter *rate.Limiter
	now     func() time.Time
}

// NewTelegram creates the executor. It does not contact Telegram.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{
		bot:     b,
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		now:     time.Now,
	}, nil
}

func (t *Telegram) Execute(ctx context.Context, task core.Task) error {
	var p telegramParams
	if len(task.Params) > 0 {
		// Params that are not an object just mean no extra text.
		_ = json.Unmarshal(task.Params, &p)
	}
	chatID := t.chatID
	if p.ChatID != 0 {
		chatID = p.ChatID
	}
	if chatID == 0 {
		return errors.New("telegram chat id is not configured")
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := t.bot.Send(tele.ChatID(chatID), t.message(task, p.Text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) message(task core.Task, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Job executed: %s\nTime: %s", task.JobID, core.FormatTime(t.now()))
	if text != "" {
		b.WriteString("\n")
		b.WriteString(text)
	}
	return b.String()
}

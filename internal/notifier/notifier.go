package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/socialtag/rewards-reconciler/internal/engine"
)

// Notifier pushes run-report summaries to a Telegram admin chat. Disabled
// (all methods no-ops) when no bot token or chat id is configured.
type Notifier struct {
	bot    *bot.Bot
	chatID int64
	log    *slog.Logger
}

// New creates a Notifier. Returns a disabled instance if token or chatID is
// empty.
func New(token string, chatID int64, log *slog.Logger) (*Notifier, error) {
	n := &Notifier{chatID: chatID, log: log}

	if token == "" || chatID == 0 {
		log.Info("run-report notifications disabled: BOT_TOKEN or ADMIN_CHAT_ID not set")
		return n, nil
	}

	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	n.bot = b

	return n, nil
}

// SendRunReport delivers a formatted run summary
func (n *Notifier) SendRunReport(ctx context.Context, r *engine.Report) {
	if n.bot == nil {
		return
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      formatReport(r),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		n.log.Error("send run report", "run_id", r.RunID, "error", err)
	}
}

func formatReport(r *engine.Report) string {
	lines := []string{
		"<b>💸 Reward reconciliation run</b>",
		fmt.Sprintf("<code>%s</code>", r.RunID),
		"",
		fmt.Sprintf("✅ Rewarded: <b>%d</b>", r.Count(engine.StatusRewarded)),
	}

	if n := r.Count(engine.StatusRecovered); n > 0 {
		lines = append(lines, fmt.Sprintf("♻️ Recovered: <b>%d</b>", n))
	}
	if n := r.Count(engine.StatusPoolExhausted); n > 0 {
		lines = append(lines, fmt.Sprintf("🛑 Pool exhausted: <b>%d</b>", n))
	}
	if n := r.Count(engine.StatusNotOptedIn); n > 0 {
		lines = append(lines, fmt.Sprintf("🔒 Not opted in: <b>%d</b>", n))
	}
	if n := r.Count(engine.StatusFailed); n > 0 {
		lines = append(lines, fmt.Sprintf("❌ Failed: <b>%d</b>", n))
	}
	if n := r.Count(engine.StatusUnknownOutcome); n > 0 {
		lines = append(lines, fmt.Sprintf("⚠️ Unknown outcome: <b>%d</b>", n))
	}

	lines = append(lines, "",
		fmt.Sprintf("⏱ %.1fs", r.FinishedAt.Sub(r.StartedAt).Seconds()))

	return strings.Join(lines, "\n")
}

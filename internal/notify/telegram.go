package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink renders events as HTML messages in one operator chat.
type TelegramSink struct {
	logger *slog.Logger
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink creates a sink posting to the given chat.
func NewTelegramSink(logger *slog.Logger, botToken string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramSink{logger: logger, bot: bot, chatID: chatID}, nil
}

// Publish renders and sends one event. Send failures are logged, never
// propagated; losing a notice must not affect order handling.
func (s *TelegramSink) Publish(ev Event) {
	text := s.render(ev)
	if text == "" {
		return
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		s.logger.Error("TelegramSink: failed to send message", "error", err, "orderID", ev.OrderID)
	}
}

func (s *TelegramSink) render(ev Event) string {
	switch ev.Kind {
	case EventTrailingActivated:
		return fmt.Sprintf("🔹 Order #%d activated trailing stop loss.", ev.OrderID)
	case EventTriggerFired:
		return fmt.Sprintf("🔸 Order #%d triggered at <code>%s</code>:\n%s",
			ev.OrderID, ev.Price.String(), ev.OrderDetail)
	case EventBuyExecuted:
		return fmt.Sprintf("✅ Got <code>%s</code> %s at tx %s\nEffective price (after tax) <code>%s</code> per token",
			ev.Amount.String(), ev.Symbol, txLink(ev.TxHash), ev.EffectivePrice.String())
	case EventSellExecuted:
		return fmt.Sprintf("✅ Got <code>%s</code> at tx %s\nEffective price (after tax) <code>%s</code> per token.\nThis order sold %s%% of the token's balance.",
			ev.Amount.String(), txLink(ev.TxHash), ev.EffectivePrice.String(), ev.SoldPct.StringFixed(1))
	case EventExecutionFailed:
		text := fmt.Sprintf("⛔️ <u>Transaction failed:</u> %s", ev.Err)
		if ev.TxHash != "" {
			text += "\nTx: " + txLink(ev.TxHash)
		}
		if ev.OrderDetail != "" {
			text += "\nOrder kept for manual follow-up:\n" + ev.OrderDetail
		}
		return text
	case EventApprovalResult:
		if ev.Approved {
			return fmt.Sprintf("✅ %s approved for selling.", ev.Symbol)
		}
		return fmt.Sprintf("⛔ Approval failed for %s: %s", ev.Symbol, ev.Err)
	case EventPersistenceFailed:
		return fmt.Sprintf("⛔️ Database update failed for %s: %s\nThe swap itself succeeded and is not rolled back.",
			ev.Symbol, ev.Err)
	default:
		s.logger.Warn("TelegramSink: unknown event kind", "kind", int(ev.Kind))
		return ""
	}
}

func txLink(hash string) string {
	if hash == "" {
		return "n/a"
	}
	short := hash
	if len(short) > 8 {
		short = short[:8] + "..."
	}
	return fmt.Sprintf(`<a href="https://bscscan.com/tx/%s">%s</a>`, hash, short)
}

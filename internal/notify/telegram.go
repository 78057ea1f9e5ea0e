// Package notify sends best-effort alerts for fills, settlements, and fatal
// errors. Inert when no bot token or chat id is configured: New then returns
// a non-nil no-op Notifier. If the Telegram bot cannot be created, New
// returns a nil Notifier and an error.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Notifier is the alerting surface the live bot daemon pushes events to.
type Notifier interface {
	NotifyFill(positionID, side string, filledQty, filledPrice decimal.Decimal)
	NotifySettlement(positionID, side string, realizedPnL decimal.Decimal)
	NotifyFatal(err error)
}

// noop satisfies Notifier without sending anything, used when Telegram is
// not configured.
type noop struct{}

func (noop) NotifyFill(string, string, decimal.Decimal, decimal.Decimal) {}
func (noop) NotifySettlement(string, string, decimal.Decimal)            {}
func (noop) NotifyFatal(error)                                          {}

// Telegram sends alerts to a single chat via the bot API.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New returns a Telegram notifier if token and chatID are both set, else a
// noop one. Never returns an error for a missing token: Telegram alerting
// is optional, not load-bearing.
func New(token string, chatID int64) (Notifier, error) {
	if token == "" || chatID == 0 {
		return noop{}, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram notifier initialized")
	return &Telegram{api: api, chatID: chatID}, nil
}

func (t *Telegram) NotifyFill(positionID, side string, filledQty, filledPrice decimal.Decimal) {
	t.send(fmt.Sprintf("fill: %s %s qty=%s price=%s", positionID, side, filledQty.String(), filledPrice.String()))
}

func (t *Telegram) NotifySettlement(positionID, side string, realizedPnL decimal.Decimal) {
	t.send(fmt.Sprintf("settled: %s %s pnl=%s", positionID, side, realizedPnL.String()))
}

func (t *Telegram) NotifyFatal(err error) {
	t.send(fmt.Sprintf("fatal: %v", err))
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("failed to send telegram message")
	}
}

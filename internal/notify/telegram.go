package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/events"
)

// Alerter mirrors operator-relevant conditions into a Telegram admin
// chat: paused or failed campaign runs and health-checker repair
// summaries. Sends are best-effort and never block callers on more
// than one HTTP round trip.
type Alerter struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zerolog.Logger
}

func NewAlerter(token string, chatID int64, logger *zerolog.Logger) (*Alerter, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram alerter init: %w", err)
	}

	l := logger.With().Str("component", "notify.alerts").Logger()

	return &Alerter{
		api:    api,
		chatID: chatID,
		logger: &l,
	}, nil
}

// Alert posts one plain-text message to the admin chat. Satisfies the
// health checker's alert sink.
func (a *Alerter) Alert(_ context.Context, message string) {
	msg := tgbotapi.NewMessage(a.chatID, message)

	if _, err := a.api.Send(msg); err != nil {
		a.logger.Error().Err(err).Msg("telegram alert send failed")
	}
}

// Subscribe wires the alerter to campaign pause and error events.
func (a *Alerter) Subscribe(bus *events.Bus) {
	bus.Subscribe("ops-alerts", a.handle, events.CampaignPaused, events.CampaignError)
}

func (a *Alerter) handle(ev events.Event) {
	var text string

	switch ev.Type {
	case events.CampaignPaused:
		text = fmt.Sprintf("campaign %s: auto-discovery paused", ev.EntityID)

	case events.CampaignError:
		text = fmt.Sprintf("campaign %s: auto-discovery failed", ev.EntityID)

		if msg, ok := ev.Data["error"].(string); ok && msg != "" {
			text += "\n" + msg
		}

	default:
		return
	}

	a.Alert(context.Background(), text)
}

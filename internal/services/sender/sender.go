// Package sender отправляет пользователям уведомления в Telegram,
// полученные из очередей планировщика.
package sender

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/magabrotheeeer/premium-access/internal/lib/sl"
	"github.com/magabrotheeeer/premium-access/internal/models"
)

// BotAPI описывает методы telegram-клиента, используемые сервисом.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Service отправляет уведомления пользователям.
type Service struct {
	bot BotAPI
	log *slog.Logger
}

// New создает новый Service.
func New(bot BotAPI, log *slog.Logger) *Service {
	return &Service{
		bot: bot,
		log: log,
	}
}

// SendFreePeriodEndingNotice отправляет уведомление о скором окончании
// бесплатного периода.
func (s *Service) SendFreePeriodEndingNotice(body []byte) error {
	const op = "services.sender.SendFreePeriodEndingNotice"

	notice, err := decodeNotice(body)
	if err != nil {
		s.log.Error("failed to unmarshal notice", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	text := fmt.Sprintf(
		"Ваш бесплатный период заканчивается %s.\n\n"+
			"Чтобы сохранить доступ к премиум-функциям, оформите подписку командой /subscribe.",
		notice.EndsAt.Format("02.01.2006"),
	)
	return s.send(notice.UserID, text)
}

// SendSubscriptionEndingNotice отправляет уведомление о скором окончании
// оплаченной подписки.
func (s *Service) SendSubscriptionEndingNotice(body []byte) error {
	const op = "services.sender.SendSubscriptionEndingNotice"

	notice, err := decodeNotice(body)
	if err != nil {
		s.log.Error("failed to unmarshal notice", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	text := fmt.Sprintf(
		"Ваша подписка заканчивается %s.\n\n"+
			"Продлите её командой /subscribe, чтобы не потерять доступ. "+
			"Оплаченное время при продлении сохраняется.",
		notice.EndsAt.In(time.Local).Format("02.01.2006 15:04"),
	)
	return s.send(notice.UserID, text)
}

// SendUpsellReminder отправляет напоминание об оформлении подписки.
func (s *Service) SendUpsellReminder(body []byte) error {
	const op = "services.sender.SendUpsellReminder"

	notice, err := decodeNotice(body)
	if err != nil {
		s.log.Error("failed to unmarshal notice", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	text := "Ваш пробный период закончился.\n\n" +
		"Оформите подписку командой /subscribe и получите полный доступ ко всем функциям."
	return s.send(notice.UserID, text)
}

func decodeNotice(body []byte) (models.UserNotice, error) {
	var notice models.UserNotice
	if err := json.Unmarshal(body, &notice); err != nil {
		return models.UserNotice{}, fmt.Errorf("error unmarshalling message: %w", err)
	}
	return notice, nil
}

func (s *Service) send(userID int64, text string) error {
	const op = "services.sender.send"

	msg := tgbotapi.NewMessage(userID, text)
	if _, err := s.bot.Send(msg); err != nil {
		s.log.Error("failed to send telegram message", sl.UserID(userID), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("telegram message sent", sl.UserID(userID))
	return nil
}

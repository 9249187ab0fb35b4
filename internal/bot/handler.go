package bot

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"snapengine/internal/capture"
	"snapengine/internal/config"
	"snapengine/internal/domain"
)

// Handler is the Telegram snapshot bot: send it a URL and it replies with a
// full-page screenshot, served from the cache when possible.
type Handler struct {
	bot *tgbot.Bot
	cfg *config.Config
	svc *capture.Service
	log logrus.FieldLogger
}

// NewHandler creates the bot and registers its handlers.
func NewHandler(cfg *config.Config, svc *capture.Service, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot")

	b, err := tgbot.New(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	h := &Handler{
		bot: b,
		cfg: cfg,
		svc: svc,
		log: log,
	}

	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypeContains, h.captureHandler)

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// Start begins polling for updates. Blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped")
}

func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	h.log.WithField("user_id", update.Message.From.ID).Info("Received /start command")

	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "Send me a website URL and I'll reply with a full-page screenshot.",
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to send welcome message")
	}
}

func (h *Handler) captureHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	target := strings.TrimSpace(update.Message.Text)
	log := h.log.WithFields(logrus.Fields{
		"user_id": update.Message.From.ID,
		"url":     target,
	})

	if !isHTTPURL(target) {
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   "That doesn't look like a URL. Send something like https://example.com",
		})
		return
	}

	log.Info("Capturing screenshot for chat")

	path, err := h.svc.Capture(ctx, domain.CaptureRequest{
		URL:      target,
		FullPage: true,
		UseCache: h.cfg.CacheEnabled,
	})
	if err != nil || path == "" {
		if err != nil {
			log.WithError(err).Error("Capture failed")
		} else {
			log.Error("Capture returned no result")
		}
		_, _ = b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: update.Message.Chat.ID,
			Text:   fmt.Sprintf("Sorry, I couldn't capture %s", target),
		})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Error("Failed to open artifact for upload")
		return
	}
	defer f.Close()

	_, err = b.SendPhoto(ctx, &tgbot.SendPhotoParams{
		ChatID: update.Message.Chat.ID,
		Photo: &models.InputFileUpload{
			Filename: filepath.Base(path),
			Data:     f,
		},
	})
	if err != nil {
		log.WithError(err).Error("Failed to send screenshot")
		return
	}
	log.Info("Screenshot delivered")
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

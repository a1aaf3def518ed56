package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/payment-recon/pkg/event"
	"example.com/payment-recon/pkg/logger"
	"example.com/payment-recon/services/recon/internal/provider"
	"example.com/payment-recon/services/recon/internal/repository"
	"example.com/payment-recon/services/recon/internal/service"
)

// webhookDedupTTL — время жизни быстрого дедуп-ключа в Redis.
// Страховкой на больший срок служит журнал webhook_events в MySQL.
const webhookDedupTTL = 24 * time.Hour

// webhookDedupPrefix — префикс дедуп-ключей вебхуков в Redis.
const webhookDedupPrefix = "recon:webhook:"

// WebhookHandler принимает события платёжного шлюза.
// Подпись проверяется до любой обработки, дедупликация — до движка сверки.
type WebhookHandler struct {
	recon    service.ReconService
	events   repository.WebhookEventRepository
	rdb      *redis.Client
	provider string
	secret   []byte
}

// NewWebhookHandler создаёт обработчик вебхуков.
func NewWebhookHandler(recon service.ReconService, events repository.WebhookEventRepository, rdb *redis.Client, providerName, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		recon:    recon,
		events:   events,
		rdb:      rdb,
		provider: providerName,
		secret:   []byte(webhookSecret),
	}
}

// webhookPayload — тело события шлюза.
type webhookPayload struct {
	EventID   string `json:"event_id"`
	Event     string `json:"event"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    *int64 `json:"amount"`
	Currency  string `json:"currency"`
}

// Handle обрабатывает входящее событие.
// POST /webhooks/payments
//
// Бизнес-исходы (сирота, расхождение суммы, повтор) отвечаются 200,
// чтобы шлюз прекратил передоставку; занятый заказ и инфраструктурные
// сбои отвечаются 5xx — их шлюз повторит.
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Warn().Err(err).Msg("Ошибка чтения тела вебхука")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Не удалось прочитать тело запроса"})
		return
	}

	// Проверка подписи до любой обработки
	if !h.verifySignature(body, c.GetHeader("X-Signature")) {
		log.Warn().Str("client_ip", c.ClientIP()).Msg("Вебхук с невалидной подписью отклонён")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid_signature", Message: "Невалидная подпись"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("Невалидный JSON в теле вебхука")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Невалидный JSON"})
		return
	}

	// Шлюз может не присылать ID события — тогда дедуплицируем по телу
	eventID := payload.EventID
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = hex.EncodeToString(sum[:])
	}

	// Быстрый путь дедупликации: SETNX в Redis.
	// При недоступности Redis полагаемся на журнал в MySQL.
	dedupKey := webhookDedupPrefix + h.provider + ":" + eventID
	fresh, err := h.rdb.SetNX(ctx, dedupKey, "1", webhookDedupTTL).Result()
	if err != nil {
		log.Warn().Err(err).Msg("Ошибка Redis при дедупликации вебхука, проверяем журнал")
	} else if !fresh {
		log.Info().Str("event_id", eventID).Msg("Повторная доставка вебхука отброшена (Redis)")
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	// Долговечная страховка: уникальная запись журнала
	created, err := h.events.Record(ctx, h.provider, eventID)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Ошибка записи журнала вебхуков")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
		return
	}
	if !created {
		log.Info().Str("event_id", eventID).Msg("Повторная доставка вебхука отброшена (журнал)")
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	// Сырой статус шлюза приводим к заявленному статусу движка
	claimed, final := provider.MapProviderStatus(payload.Status)
	if !final {
		// Нефинальное событие фиксируем в журнале и игнорируем
		h.markProcessed(ctx, eventID)
		log.Info().
			Str("event_id", eventID).
			Str("status", payload.Status).
			Msg("Нефинальный статус вебхука проигнорирован")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	result, err := h.recon.Reconcile(ctx, service.ReconcileRequest{
		PaymentRef:     payload.Reference,
		ClaimedStatus:  string(claimed),
		ClaimedAmount:  payload.Amount,
		Currency:       payload.Currency,
		RawPayload:     body,
		Source:         event.SourceWebhook,
		WebhookEventID: eventID,
	})
	if err != nil {
		// Инфраструктурный сбой: журнал помечается, шлюз повторит доставку.
		// Повтор пройдёт дедуп, потому что фиксация журнала не processed.
		if markErr := h.events.MarkFailed(ctx, h.provider, eventID, err); markErr != nil {
			log.Error().Err(markErr).Str("event_id", eventID).Msg("Ошибка пометки события как сбойного")
		}
		h.releaseDedup(ctx, dedupKey)
		log.Error().Err(err).Str("event_id", eventID).Str("reference", payload.Reference).Msg("Ошибка сверки вебхука")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"})
		return
	}

	// Состязание за заказ — не бизнес-исход: журнал не помечаем и снимаем
	// дедуп-ключ, чтобы передоставка шлюза дошла до движка после
	// освобождения замка.
	if result.Outcome == service.OutcomeBusy {
		h.releaseDedup(ctx, dedupKey)

		retryAfter := int(result.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}

		log.Warn().
			Str("event_id", eventID).
			Str("reference", payload.Reference).
			Msg("Заказ занят другим вызовом, ждём передоставку вебхука")

		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "busy", Message: "Заказ обрабатывается, повторите позже"})
		return
	}

	h.markProcessed(ctx, eventID)

	log.Info().
		Str("event_id", eventID).
		Str("reference", result.Reference).
		Str("outcome", string(result.Outcome)).
		Bool("success", result.Success).
		Msg("Вебхук обработан")

	c.JSON(http.StatusOK, gin.H{
		"status":  "processed",
		"outcome": result.Outcome,
	})
}

// verifySignature сверяет HMAC-SHA512 подпись тела с заголовком X-Signature.
// Сравнение константное по времени.
func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" || len(h.secret) == 0 {
		return false
	}

	mac := hmac.New(sha512.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// markProcessed помечает событие обработанным, ошибка только логируется.
func (h *WebhookHandler) markProcessed(ctx context.Context, eventID string) {
	if err := h.events.MarkProcessed(ctx, h.provider, eventID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_id", eventID).Msg("Ошибка пометки события обработанным")
	}
}

// releaseDedup снимает быстрый дедуп-ключ после сбоя, чтобы передоставка
// шлюза не упёрлась в Redis раньше журнала.
func (h *WebhookHandler) releaseDedup(ctx context.Context, dedupKey string) {
	if err := h.rdb.Del(ctx, dedupKey).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", dedupKey).Msg("Ошибка снятия дедуп-ключа")
	}
}

// Package provider содержит HTTP клиент платёжного шлюза и фоновый опрос
// зависших транзакций. Все запросы к шлюзу идут через Circuit Breaker:
// при недоступности провайдера опрос пропускает цикл, а клиентская
// проверка статуса возвращает сохранённое состояние.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"example.com/payment-recon/pkg/circuitbreaker"
	"example.com/payment-recon/pkg/config"
	"example.com/payment-recon/services/recon/internal/domain"
)

// VerificationResult — ответ провайдера на запрос статуса транзакции.
type VerificationResult struct {
	Reference string               // Ссылка, по которой спрашивали
	Found     bool                 // Знает ли провайдер такую транзакцию
	Status    string               // Сырой статус провайдера
	Claimed   domain.ClaimedStatus // Статус в терминах движка сверки
	Final     bool                 // Финальный ли статус (можно сверять)
	Amount    int64                // Сумма в минимальных единицах
	Currency  string               // Валюта
	Raw       json.RawMessage      // Полный ответ провайдера
}

// Client — интерфейс клиента платёжного шлюза.
type Client interface {
	// VerifyTransaction запрашивает у провайдера статус транзакции.
	// Сетевые ошибки и 5xx открывают Circuit Breaker; "не найдено"
	// и нефинальные статусы — бизнес-результаты, breaker их не считает.
	VerifyTransaction(ctx context.Context, reference string) (*VerificationResult, error)
}

// httpClient — реализация Client поверх REST API провайдера.
type httpClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
	breaker   *circuitbreaker.Breaker
}

// NewClient создаёт клиента платёжного шлюза.
func NewClient(cfg config.ProviderConfig) Client {
	return &httpClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		secretKey: cfg.SecretKey,
		http:      &http.Client{Timeout: cfg.Timeout},
		breaker:   circuitbreaker.New("payment-gateway"),
	}
}

// verifyResponse — формат ответа провайдера на верификацию.
type verifyResponse struct {
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// VerifyTransaction запрашивает статус транзакции у провайдера.
func (c *httpClient) VerifyTransaction(ctx context.Context, reference string) (*VerificationResult, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doVerify(ctx, reference)
	})
	if err != nil {
		return nil, err
	}
	return result.(*VerificationResult), nil
}

// doVerify выполняет один HTTP запрос верификации.
func (c *httpClient) doVerify(ctx context.Context, reference string) (*VerificationResult, error) {
	url := fmt.Sprintf("%s/transactions/verify/%s", c.baseURL, reference)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к провайдеру: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к провайдеру: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа провайдера: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Провайдер не знает ссылку — бизнес-результат, не сбой.
		return &VerificationResult{Reference: reference, Found: false, Raw: body}, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("провайдер вернул %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("неожиданный ответ провайдера: %d", resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа провайдера: %w", err)
	}

	claimed, final := MapProviderStatus(vr.Status)

	return &VerificationResult{
		Reference: reference,
		Found:     true,
		Status:    vr.Status,
		Claimed:   claimed,
		Final:     final,
		Amount:    vr.Amount,
		Currency:  vr.Currency,
		Raw:       body,
	}, nil
}

// MapProviderStatus приводит сырой статус провайдера к заявленному статусу
// движка сверки. Второй результат — финальность: нефинальные статусы
// (pending, ongoing) сверку не запускают, опрос вернётся к ним позже.
func MapProviderStatus(status string) (domain.ClaimedStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful", "paid", "confirmed", "completed":
		return domain.ClaimedPaid, true
	case "failed", "declined", "error":
		return domain.ClaimedFailed, true
	case "refunded", "reversed":
		return domain.ClaimedRefunded, true
	case "abandoned", "expired":
		return domain.ClaimedAbandoned, true
	default:
		return "", false
	}
}

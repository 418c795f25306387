// Пакет ssoclient: HTTP-клиент внешнего сервиса проверки учётных данных.
// Сервис непрозрачен: на пару studentId/password он отвечает только
// «верно» или «неверно».
package ssoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout: таймаут запроса проверки.
const DefaultTimeout = 10 * time.Second

// ErrNotConfigured: адрес сервиса проверки не задан.
var ErrNotConfigured = errors.New("сервис проверки учётных данных не настроен")

// verifyRequest: тело запроса проверки.
type verifyRequest struct {
	StudentID string `json:"studentId"`
	Password  string `json:"password"`
}

// verifyResponse: ответ сервиса проверки.
type verifyResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Client: клиент проверки учётных данных.
type Client struct {
	httpClient *http.Client
	verifyURL  string
	logger     *slog.Logger
}

// New создаёт клиент. Пустой verifyURL допустим: Verify тогда
// возвращает ErrNotConfigured.
func New(verifyURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		verifyURL:  verifyURL,
		logger:     logger.With(slog.String("component", "sso_client")),
	}
}

// Verify проверяет учётные данные.
// (true, nil): данные верны; (false, nil): неверны;
// ошибка: сервис недоступен или ответил непредусмотренным образом.
//
// POST {verifyURL} {"studentId", "password"}
//   - 200 {"success": bool}
//   - 401 / 403: данные неверны
func (c *Client) Verify(ctx context.Context, studentID, password string) (bool, error) {
	if c.verifyURL == "" {
		return false, ErrNotConfigured
	}

	body, err := json.Marshal(verifyRequest{StudentID: studentID, Password: password})
	if err != nil {
		return false, fmt.Errorf("сериализация запроса проверки: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("создание запроса проверки: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return false, fmt.Errorf("запрос проверки к %s: %w", c.verifyURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Debug("Учётные данные отклонены", slog.String("student_id", studentID))
		return false, nil
	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("сервис проверки вернул статус %d: %s", resp.StatusCode, string(raw))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("декодирование ответа проверки: %w", err)
	}
	if !out.Success {
		c.logger.Debug("Учётные данные отклонены",
			slog.String("student_id", studentID),
			slog.String("reason", out.Error),
		)
	}
	return out.Success, nil
}

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultProvisionTimeout = 30 * time.Second

// ErrProvisionRequest — ошибка обращения к provisioning-системе.
var ErrProvisionRequest = errors.New("provision request failed")

// ProvisionRequest — запрос на запуск внешней операции.
type ProvisionRequest struct {
	// SubjectID — subject, над которым выполняется операция.
	SubjectID string `json:"subject_id"`

	// Config — конфигурация, которую нужно применить (или снять).
	Config map[string]any `json:"config,omitempty"`

	// CallbackToken — одноразовый token: внешняя система доставит
	// по нему результат операции.
	CallbackToken string `json:"callback_token"`
}

// Provisioner — клиент внешней системы, выполняющей долгие операции
// над subject'ами. Операции асинхронные: вызов лишь запускает job,
// результат приходит callback'ом.
type Provisioner interface {
	StartProvision(ctx context.Context, req ProvisionRequest) (jobID string, err error)
	StartDeprovision(ctx context.Context, req ProvisionRequest) (jobID string, err error)
}

// HTTPProvisioner — Provisioner поверх HTTP API внешней системы.
type HTTPProvisioner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvisioner создаёт клиент provisioning-системы.
func NewHTTPProvisioner(baseURL string) *HTTPProvisioner {
	return &HTTPProvisioner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultProvisionTimeout},
	}
}

// StartProvision запускает применение конфигурации.
func (p *HTTPProvisioner) StartProvision(ctx context.Context, req ProvisionRequest) (string, error) {
	return p.post(ctx, "/provision", req)
}

// StartDeprovision запускает снятие конфигурации.
func (p *HTTPProvisioner) StartDeprovision(ctx context.Context, req ProvisionRequest) (string, error) {
	return p.post(ctx, "/deprovision", req)
}

// post выполняет запрос и извлекает job_id из ответа.
func (p *HTTPProvisioner) post(ctx context.Context, path string, req ProvisionRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrProvisionRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrProvisionRequest, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProvisionRequest, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrProvisionRequest, err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: HTTP %d: %s", ErrProvisionRequest, resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("%w: parse response: %v", ErrProvisionRequest, err)
	}
	if parsed.JobID == "" {
		return "", fmt.Errorf("%w: response has no job_id", ErrProvisionRequest)
	}

	return parsed.JobID, nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Package botapi предоставляет клиент для исходящих вызовов Telegram Bot API.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с Bot API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// RetryAfterError возвращается, когда Bot API ответил 429 и просит повторить запрос позже.
type RetryAfterError struct {
	Method string
	After  time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%s: too many requests, retry after %s", e.Method, e.After)
}

// APIError - отказ Bot API с описанием.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: telegram error %d: %s", e.Method, e.Code, e.Description)
}

// InvoiceParams описывает счёт на оплату звёздами.
type InvoiceParams struct {
	Title       string
	Description string
	Payload     string
	Amount      int64
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// NewClient создаёт клиент Bot API для бота с токеном token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Configured сообщает, задан ли токен бота.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// CreateInvoiceLink создаёт ссылку на счёт в валюте XTR.
func (c *Client) CreateInvoiceLink(ctx context.Context, p InvoiceParams) (string, error) {
	body := map[string]any{
		"title":       p.Title,
		"description": p.Description,
		"payload":     p.Payload,
		"currency":    "XTR",
		"prices":      []map[string]any{{"label": p.Title, "amount": p.Amount}},
	}

	var link string
	if err := c.call(ctx, "createInvoiceLink", body, &link); err != nil {
		return "", err
	}
	return link, nil
}

// AnswerPreCheckoutQuery подтверждает или отклоняет предварительную проверку платежа.
func (c *Client) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	body := map[string]any{
		"pre_checkout_query_id": queryID,
		"ok":                    ok,
	}
	if !ok {
		body["error_message"] = errorMessage
	}
	return c.call(ctx, "answerPreCheckoutQuery", body, nil)
}

func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	if !c.Configured() {
		return errors.New("bot api client not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var result apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if decodeErr == nil && result.Parameters != nil {
			retryAfter = time.Duration(result.Parameters.RetryAfter) * time.Second
		} else if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RetryAfterError{Method: method, After: retryAfter}
	}

	if decodeErr != nil {
		return fmt.Errorf("decode response: status %d: %w", resp.StatusCode, decodeErr)
	}

	if !result.OK {
		return &APIError{Method: method, Code: result.ErrorCode, Description: result.Description}
	}

	if out != nil {
		if err := json.Unmarshal(result.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

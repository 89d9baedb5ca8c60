package botapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateInvoiceLink_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/botTOKEN/createInvoiceLink" {
			t.Fatalf("path = %s, want /botTOKEN/createInvoiceLink", r.URL.Path)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["currency"] != "XTR" || body["payload"] != "sm1:payload" {
			t.Fatalf("unexpected body: %v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":"https://t.me/$invoice"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "TOKEN")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	link, err := client.CreateInvoiceLink(ctx, InvoiceParams{Title: "Stars", Payload: "sm1:payload", Amount: 130})
	if err != nil {
		t.Fatalf("CreateInvoiceLink error: %v", err)
	}
	if link != "https://t.me/$invoice" {
		t.Fatalf("link = %q", link)
	}
}

func TestCall_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":5}}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "TOKEN")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.AnswerPreCheckoutQuery(ctx, "q1", true, "")

	var retryErr *RetryAfterError
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryAfterError, got %v", err)
	}
	if retryErr.After < 5*time.Second {
		t.Fatalf("retryAfter = %v, want at least 5s", retryErr.After)
	}
}

func TestCall_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: query is too old"}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "TOKEN")

	err := client.AnswerPreCheckoutQuery(context.Background(), "q1", false, "expired")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", apiErr.Code)
	}
}

func TestCall_NotConfigured(t *testing.T) {
	client := NewClient("https://api.telegram.org", "")
	if client.Configured() {
		t.Fatal("client without token must not be configured")
	}
	if _, err := client.CreateInvoiceLink(context.Background(), InvoiceParams{}); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func echoJSON(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"echo":` + string(body) + `}`))
}

func gzipBytes(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(s)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		gzipRequest     bool
		acceptEncoding  string
		wantEncoding    string
		wantBodyContain string
	}{
		{
			name:            "plain request, gzip response",
			body:            `{"amount":10}`,
			acceptEncoding:  "gzip",
			wantEncoding:    "gzip",
			wantBodyContain: `{"echo":{"amount":10}}`,
		},
		{
			name:            "client does not accept gzip",
			body:            `{"amount":10}`,
			wantEncoding:    "",
			wantBodyContain: `{"echo":{"amount":10}}`,
		},
		{
			name:            "compressed request body",
			body:            `{"amount":25}`,
			gzipRequest:     true,
			acceptEncoding:  "gzip",
			wantEncoding:    "gzip",
			wantBodyContain: `{"echo":{"amount":25}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			req := httptest.NewRequest(http.MethodPost, "/api/pricing/quote", nil)
			if tt.gzipRequest {
				body = gzipBytes(t, tt.body)
				req.Header.Set("Content-Encoding", "gzip")
			}
			req.Body = io.NopCloser(body)
			req.Header.Set("Content-Type", "application/json")
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoJSON)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				t.Fatalf("status: got %d want %d", res.StatusCode, http.StatusOK)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding: got %q want %q", ce, tt.wantEncoding)
			}

			var got []byte
			var err error
			if tt.wantEncoding == "gzip" {
				gr, gerr := gzip.NewReader(res.Body)
				if gerr != nil {
					t.Fatalf("new gzip reader: %v", gerr)
				}
				defer gr.Close()
				got, err = io.ReadAll(gr)
			} else {
				got, err = io.ReadAll(res.Body)
			}
			if err != nil {
				t.Fatalf("read body: %v", err)
			}

			if !strings.Contains(string(got), tt.wantBodyContain) {
				t.Fatalf("body %q does not contain %q", string(got), tt.wantBodyContain)
			}
		})
	}
}

func TestGzipMiddleware_BrokenBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/pricing/quote", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

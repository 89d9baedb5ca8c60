package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const compressLevel = 5

// GzipMiddleware распаковывает тела запросов с Content-Encoding: gzip
// и сжимает ответы для клиентов, которые это поддерживают.
func GzipMiddleware(next http.Handler) http.Handler {
	compressed := chimiddleware.Compress(compressLevel)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer gr.Close()

			r.Body = gr
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}

		compressed.ServeHTTP(w, r)
	})
}

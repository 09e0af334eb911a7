package middleware

import (
	"context"
	"net/http"
	"time"
)

// RequestTimeoutMiddleware выставляет таймаут на обработку запроса через context.WithTimeout.
//
// Это не убийца обработчиков: таймаут сработает только там, где нижние слои
// проверяют ctx.Done(). Сервис задач смотрит на ctx, пока запрос ждёт
// очереди; начатую операцию он доводит до конца.
func RequestTimeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Package middleware содержит HTTP-middleware: функции-обёртки над http.Handler,
// которые добавляют общий функционал (логирование, идентификация пользователя,
// заголовки) вокруг основного обработчика без изменения его кода.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type ctxKey int

const userIDKey ctxKey = iota

// LoggingMiddleware пишет в лог метод, путь, код ответа и время обработки запроса.
//
// Запись делается после next.ServeHTTP, поэтому duration включает всю
// обработку внутри цепочки.
func LoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			)
		})
	}
}

// UserIDMiddleware достаёт идентификатор пользователя из заголовка header.
//
// Сессии и аутентификация живут снаружи сервиса: сюда приходит уже готовый
// user_id. Без заголовка запрос получает 401 и дальше не идёт.
func UserIDMiddleware(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(header))
			if userID == "" {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"missing user identity"}`))
				return
			}
			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext возвращает user_id, положенный UserIDMiddleware.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// WithUserID кладёт user_id в контекст (для тестов и внутренних вызовов).
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// JSONHeaderMiddleware проставляет заголовок Content-Type для JSON-ответов.
//
// Заголовки нужно выставлять до записи тела ответа; обработчик может
// переопределить значение (например, для выгрузки файла).
func JSONHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

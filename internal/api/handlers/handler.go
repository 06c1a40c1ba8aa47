// Package handlers — HTTP-обработчики сервиса.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON сериализует ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handlerLogger возвращает логгер обработчика с именем компонента.
func handlerLogger(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

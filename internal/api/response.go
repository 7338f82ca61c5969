package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Response struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type PaginatedResponse struct {
	Data     any `json:"data"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// WriteJSON encodes body as-is. The envelope helpers below build on it.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("writing json response", "error", err)
	}
}

func JSON(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{Data: data})
}

func JSONMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Message: message})
}

func JSONPaginated(w http.ResponseWriter, status int, data any, page, pageSize int) {
	WriteJSON(w, status, PaginatedResponse{
		Data:     data,
		Page:     page,
		PageSize: pageSize,
	})
}

func JSONError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, Response{Error: err.Error()})
}

func JSONErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{Error: message})
}

package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Robinemad1/EEETrading/pkg/apierror"
)

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	write(w, statusCode, Response{Success: true, Data: data})
}

// Message sends a successful response with a human-readable message.
func Message(w http.ResponseWriter, statusCode int, message string, data any) {
	write(w, statusCode, Response{Success: true, Data: data, Message: message})
}

func write(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// Error sends an error response.
func Error(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.InternalError("an unexpected error occurred")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_, _ = w.Write(apiErr.ToJSON())
}

// Created sends a 201 Created response with the created resource.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

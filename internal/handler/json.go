package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/clubdesk/internal/model"
	"github.com/dukerupert/clubdesk/internal/passapi"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error       string             `json:"error"`
	ErrorCode   passapi.Kind       `json:"errorCode,omitempty"`
	PassDetails *model.PassDetails `json:"passDetails,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code passapi.Kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, ErrorCode: code})
}

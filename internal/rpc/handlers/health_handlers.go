package handlers

import (
	"net/http"
)

type HealthResponse struct {
	Status string `json:"status"`
}

func HealthGetHandler(r *http.Request) (HealthResponse, error) {
	return HealthResponse{Status: "OK"}, nil
}

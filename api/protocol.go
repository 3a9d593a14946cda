package api

import (
	"time"

	"bashbook/domain"
)

const (
	msgSuccess  = "Success"
	msgDeleted  = "Deleted"
	msgInternal = "Internal Server Error"
)

// POST /api/todos request body
type replaceRequest struct {
	Todos *[]domain.Guest `json:"todos"`
}

// DELETE /api/todos request body
type deleteRequest struct {
	ID string `json:"id"`
}

// POST /api/session request body
type sessionRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type messageResponse struct {
	Message string `json:"message"`
}

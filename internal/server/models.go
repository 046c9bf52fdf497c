package server

import "time"

type AuthSignupRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName"`
}

type AuthLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type ConversationCreateRequest struct {
	Title string `json:"title"`
}

type ConversationRenameRequest struct {
	Title string `json:"title" validate:"required"`
}

type ConversationResponse struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	TokenCount int64     `json:"tokenCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type MessageResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatRequest struct {
	Message string `json:"message" validate:"required"`
}

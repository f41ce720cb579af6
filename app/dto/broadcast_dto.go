package dto

import (
	"time"
)

// BroadcastDTO is a broadcast as returned by the API
type BroadcastDTO struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Subject             string     `json:"subject"`
	Content             string     `json:"content"`
	FromEmail           string     `json:"from_email"`
	AudienceID          string     `json:"audience_id"`
	TargetCategory      string     `json:"target_category"`
	ProviderBroadcastID *string    `json:"provider_broadcast_id,omitempty"`
	Status              string     `json:"status"`
	ScheduledAt         *time.Time `json:"scheduled_at"`
	SentAt              *time.Time `json:"sent_at"`
	RecipientCount      int        `json:"recipient_count"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ListBroadcastsRequest represents a paginated broadcast query
type ListBroadcastsRequest struct {
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Status *string `json:"status,omitempty" validate:"omitempty,oneof=draft scheduled sent failed"`
}

// ListBroadcastsResponse represents a page of broadcasts
type ListBroadcastsResponse struct {
	Broadcasts []BroadcastDTO `json:"broadcasts"`
	Pagination PaginationInfo `json:"pagination"`
}

// CreateBroadcastRequest represents a newly composed broadcast
type CreateBroadcastRequest struct {
	Title          string     `json:"title" validate:"required,max=200"`
	Subject        string     `json:"subject" validate:"required,max=200"`
	Content        string     `json:"content" validate:"required"`
	FromEmail      string     `json:"from_email,omitempty" validate:"omitempty,email"`
	TargetCategory string     `json:"target_category,omitempty" validate:"omitempty,oneof=all general announcements updates newsletters promotions"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
}

// UpdateBroadcastRequest represents a partial broadcast update
type UpdateBroadcastRequest struct {
	Title          *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Subject        *string `json:"subject,omitempty" validate:"omitempty,min=1,max=200"`
	Content        *string `json:"content,omitempty" validate:"omitempty,min=1"`
	FromEmail      *string `json:"from_email,omitempty" validate:"omitempty,email"`
	Status         *string `json:"status,omitempty" validate:"omitempty,oneof=draft scheduled sent failed"`
	TargetCategory *string `json:"target_category,omitempty" validate:"omitempty,oneof=all general announcements updates newsletters promotions"`
}

// SendBroadcastRequest optionally schedules a send
type SendBroadcastRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// SendBroadcastResponse returns the dispatched broadcast; Delivery is set for per-recipient sends
type SendBroadcastResponse struct {
	Broadcast BroadcastDTO     `json:"broadcast"`
	Delivery  *ProviderResults `json:"delivery,omitempty"`
}

// PreviewBroadcastResponse is the rendered email body of a broadcast
type PreviewBroadcastResponse struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

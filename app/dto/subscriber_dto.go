package dto

import (
	"time"
)

// SubscriberDTO is a subscriber as returned by the API
type SubscriberDTO struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Status            string    `json:"status"`
	Category          string    `json:"category"`
	ProviderContactID *string   `json:"provider_contact_id,omitempty"`
	Source            string    `json:"source"`
	SubscriptionDate  time.Time `json:"subscription_date"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ListSubscribersRequest represents a paginated subscriber query
type ListSubscribersRequest struct {
	Page     int     `json:"page"`
	Limit    int     `json:"limit"`
	Category *string `json:"category,omitempty" validate:"omitempty,oneof=general announcements updates newsletters promotions"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=active unsubscribed"`
}

// ListSubscribersResponse represents a page of subscribers
type ListSubscribersResponse struct {
	Subscribers []SubscriberDTO `json:"subscribers"`
	Pagination  PaginationInfo  `json:"pagination"`
}

// CreateSubscriberRequest represents the request to subscribe an email
type CreateSubscriberRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Category string `json:"category,omitempty" validate:"omitempty,oneof=general announcements updates newsletters promotions"`
}

// UpdateSubscriberRequest represents a partial subscriber update
type UpdateSubscriberRequest struct {
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=active unsubscribed"`
	Category *string `json:"category,omitempty" validate:"omitempty,oneof=general announcements updates newsletters promotions"`
}

// CategoryStatsResponse holds active subscriber counts per category
type CategoryStatsResponse struct {
	Stats       map[string]int64 `json:"stats"`
	TotalActive int64            `json:"total_active"`
}

// ImportSubscribersRequest describes an uploaded subscriber list
type ImportSubscribersRequest struct {
	Filename string `json:"filename"`
	Format   string `json:"format" validate:"required,oneof=csv xlsx"`
	Category string `json:"category,omitempty" validate:"omitempty,oneof=general announcements updates newsletters promotions"`
}

// ImportRowError describes one rejected row of an import
type ImportRowError struct {
	Row   int    `json:"row"`
	Email string `json:"email"`
	Error string `json:"error"`
}

// ImportSubscribersResponse summarizes an import
type ImportSubscribersResponse struct {
	Total    int              `json:"total"`
	Imported int              `json:"imported"`
	Skipped  int              `json:"skipped"`
	Failed   int              `json:"failed"`
	Errors   []ImportRowError `json:"errors,omitempty"`
}

// ExportSubscribersRequest narrows an export
type ExportSubscribersRequest struct {
	Category *string `json:"category,omitempty" validate:"omitempty,oneof=general announcements updates newsletters promotions"`
	Status   *string `json:"status,omitempty" validate:"omitempty,oneof=active unsubscribed"`
}

// ExportSubscribersResponse is a generated workbook
type ExportSubscribersResponse struct {
	Filename string
	Data     []byte
	Rows     int
}

// UnsubscribeResponse confirms a self-service unsubscribe
type UnsubscribeResponse struct {
	Email  string `json:"email"`
	Status string `json:"status"`
}

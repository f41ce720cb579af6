// Package dto contains the request and response shapes of the HTTP API
package dto

// APIResponse represents the standard API response structure
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty" validate:"omitempty"`
	Error   any    `json:"error,omitempty" validate:"omitempty"`
}

// ErrorDetail represents error details in API responses
type ErrorDetail struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty" validate:"omitempty"`
}

// PaginationInfo describes one page of a listing
type PaginationInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

// BulkDeleteRequest carries the ids of a bulk delete
type BulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,uuid"`
}

// ProviderResults counts provider-side outcomes of a batch
type ProviderResults struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkDeleteResponse reports local and provider-side results of a bulk delete
type BulkDeleteResponse struct {
	Deleted  int64           `json:"deleted"`
	Provider ProviderResults `json:"provider"`
}

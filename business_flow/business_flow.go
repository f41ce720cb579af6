package businessflow

import (
	"github.com/amirphl/newsletter-dashboard/app/dto"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
)

// validatePage checks the listing bounds shared by subscribers and broadcasts
func validatePage(page, limit int) error {
	if page < 1 {
		return newBadRequest("INVALID_PAGE", "Page must be at least 1", ErrInvalidPage)
	}
	if limit < 1 || limit > utils.MaxPageSize {
		return newBadRequest("INVALID_PAGE_SIZE", "Page size must be between 1 and 100", ErrInvalidPageSize)
	}
	return nil
}

func paginationInfo(total int64, page, limit int) dto.PaginationInfo {
	return dto.PaginationInfo{
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: utils.TotalPages(total, limit),
	}
}

// parseIDs turns request ids into uuids, dropping duplicates while keeping order
func parseIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, newBadRequest("EMPTY_IDS", "At least one id is required", ErrEmptyIDs)
	}
	seen := make(map[uuid.UUID]struct{}, len(raw))
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, newBadRequest("INVALID_ID", "Invalid id: "+s, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func providerResults(s BatchSummary) dto.ProviderResults {
	return dto.ProviderResults{Successful: s.Successful, Failed: s.Failed}
}

// ToSubscriberDTO converts a subscriber model for API responses
func ToSubscriberDTO(s models.Subscriber) dto.SubscriberDTO {
	return dto.SubscriberDTO{
		ID:                s.ID.String(),
		Email:             s.Email,
		Status:            s.Status.String(),
		Category:          s.Category.String(),
		ProviderContactID: s.ProviderContactID,
		Source:            s.Source,
		SubscriptionDate:  s.SubscriptionDate,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

// ToBroadcastDTO converts a broadcast model for API responses
func ToBroadcastDTO(b models.Broadcast) dto.BroadcastDTO {
	target := b.TargetCategory
	if target == "" {
		target = models.BroadcastTargetAll
	}
	return dto.BroadcastDTO{
		ID:                  b.ID.String(),
		Title:               b.Title,
		Subject:             b.Subject,
		Content:             b.Content,
		FromEmail:           b.FromEmail,
		AudienceID:          b.AudienceID,
		TargetCategory:      target.String(),
		ProviderBroadcastID: b.ProviderBroadcastID,
		Status:              b.Status.String(),
		ScheduledAt:         b.ScheduledAt,
		SentAt:              b.SentAt,
		RecipientCount:      b.RecipientCount,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

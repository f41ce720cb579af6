package businessflow

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/newsletter-dashboard/app/services"
	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/repository"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// clock hands out strictly increasing creation times so newest-first ordering is stable
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeSubscriberRepo struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.Subscriber
	clock *clock

	saveErr error
	// afterCount runs once CountActiveByCategory has read the rows
	afterCount func()
}

func newFakeSubscriberRepo() *fakeSubscriberRepo {
	return &fakeSubscriberRepo{rows: make(map[uuid.UUID]*models.Subscriber), clock: newClock()}
}

func (r *fakeSubscriberRepo) ByID(ctx context.Context, id uuid.UUID) (*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeSubscriberRepo) matches(s *models.Subscriber, f models.SubscriberFilter) bool {
	if f.ID != nil && s.ID != *f.ID {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == s.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Email != nil && s.Email != utils.NormalizeEmail(*f.Email) {
		return false
	}
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.Category != nil && s.Category != *f.Category {
		return false
	}
	if f.UnsubscribeToken != nil && s.UnsubscribeToken != *f.UnsubscribeToken {
		return false
	}
	return true
}

func (r *fakeSubscriberRepo) sorted(f models.SubscriberFilter) []*models.Subscriber {
	out := make([]*models.Subscriber, 0, len(r.rows))
	for _, s := range r.rows {
		if r.matches(s, f) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *fakeSubscriberRepo) ByFilter(ctx context.Context, f models.SubscriberFilter, orderBy string, limit, offset int) ([]*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(f)
	if offset > len(out) {
		return []*models.Subscriber{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSubscriberRepo) Save(ctx context.Context, s *models.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	for _, existing := range r.rows {
		if existing.Email == s.Email {
			return repository.ErrDuplicateKey
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.clock.next()
	}
	if err := s.BeforeCreate(nil); err != nil {
		return err
	}
	cp := *s
	r.rows[s.ID] = &cp
	return nil
}

func (r *fakeSubscriberRepo) Count(ctx context.Context, f models.SubscriberFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.sorted(f))), nil
}

func (r *fakeSubscriberRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[id]
	delete(r.rows, id)
	return ok, nil
}

func (r *fakeSubscriberRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.rows[id]; ok {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeSubscriberRepo) ByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	email = utils.NormalizeEmail(email)
	rows, _ := r.ByFilter(ctx, models.SubscriberFilter{Email: &email}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *fakeSubscriberRepo) ByUnsubscribeToken(ctx context.Context, token string) (*models.Subscriber, error) {
	rows, _ := r.ByFilter(ctx, models.SubscriberFilter{UnsubscribeToken: &token}, "", 1, 0)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *fakeSubscriberRepo) ListActive(ctx context.Context, category *models.SubscriberCategory) ([]*models.Subscriber, error) {
	active := models.SubscriberStatusActive
	return r.ByFilter(ctx, models.SubscriberFilter{Status: &active, Category: category}, "", 0, 0)
}

func (r *fakeSubscriberRepo) Update(ctx context.Context, id uuid.UUID, u repository.SubscriberUpdate) (*models.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.Category != nil {
		s.Category = *u.Category
	}
	s.UpdatedAt = utils.UTCNow()
	cp := *s
	return &cp, nil
}

func (r *fakeSubscriberRepo) CountActiveByCategory(ctx context.Context) (map[models.SubscriberCategory]int64, error) {
	r.mu.Lock()
	out := make(map[models.SubscriberCategory]int64, len(models.SubscriberCategories))
	for _, c := range models.SubscriberCategories {
		out[c] = 0
	}
	for _, s := range r.rows {
		if s.Status == models.SubscriberStatusActive {
			out[s.Category]++
		}
	}
	hook := r.afterCount
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (r *fakeSubscriberRepo) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// seed inserts an active subscriber directly, bypassing the provider
func (r *fakeSubscriberRepo) seed(t *testing.T, email string, category models.SubscriberCategory) *models.Subscriber {
	t.Helper()
	s := &models.Subscriber{
		Email:             email,
		Category:          category,
		Status:            models.SubscriberStatusActive,
		UnsubscribeToken:  uuid.NewString(),
		ProviderContactID: utils.ToPtr("contact_" + email),
	}
	require.NoError(t, r.Save(context.Background(), s))
	return s
}

type fakeBroadcastRepo struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*models.Broadcast
	clock *clock

	statusUpdates []models.BroadcastStatus
	markErr       error
}

func newFakeBroadcastRepo() *fakeBroadcastRepo {
	return &fakeBroadcastRepo{rows: make(map[uuid.UUID]*models.Broadcast), clock: newClock()}
}

func (r *fakeBroadcastRepo) ByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.rows[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeBroadcastRepo) sorted(f models.BroadcastFilter) []*models.Broadcast {
	out := make([]*models.Broadcast, 0, len(r.rows))
	for _, b := range r.rows {
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		if len(f.IDs) > 0 {
			found := false
			for _, id := range f.IDs {
				if id == b.ID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *fakeBroadcastRepo) ByFilter(ctx context.Context, f models.BroadcastFilter, orderBy string, limit, offset int) ([]*models.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(f)
	if offset > len(out) {
		return []*models.Broadcast{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeBroadcastRepo) Save(ctx context.Context, b *models.Broadcast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.clock.next()
	}
	if err := b.BeforeCreate(nil); err != nil {
		return err
	}
	cp := *b
	r.rows[b.ID] = &cp
	return nil
}

func (r *fakeBroadcastRepo) Count(ctx context.Context, f models.BroadcastFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.sorted(f))), nil
}

func (r *fakeBroadcastRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[id]
	delete(r.rows, id)
	return ok, nil
}

func (r *fakeBroadcastRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.rows[id]; ok {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

func (r *fakeBroadcastRepo) Update(ctx context.Context, id uuid.UUID, u repository.BroadcastUpdate) (*models.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	if u.Title != nil {
		b.Title = *u.Title
	}
	if u.Subject != nil {
		b.Subject = *u.Subject
	}
	if u.Content != nil {
		b.Content = *u.Content
	}
	if u.FromEmail != nil {
		b.FromEmail = *u.FromEmail
	}
	if u.Status != nil {
		b.Status = *u.Status
	}
	if u.TargetCategory != nil {
		b.TargetCategory = *u.TargetCategory
	}
	b.UpdatedAt = utils.UTCNow()
	cp := *b
	return &cp, nil
}

func (r *fakeBroadcastRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BroadcastStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates = append(r.statusUpdates, status)
	if b, ok := r.rows[id]; ok {
		b.Status = status
		b.UpdatedAt = utils.UTCNow()
	}
	return nil
}

func (r *fakeBroadcastRepo) MarkDispatched(ctx context.Context, id uuid.UUID, res repository.DispatchResult) (*models.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return nil, r.markErr
	}
	b, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	b.Status = res.Status
	b.ScheduledAt = res.ScheduledAt
	b.SentAt = res.SentAt
	b.RecipientCount = res.RecipientCount
	b.UpdatedAt = utils.UTCNow()
	cp := *b
	return &cp, nil
}

func (r *fakeBroadcastRepo) statusWrites() []models.BroadcastStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.BroadcastStatus(nil), r.statusUpdates...)
}

func (r *fakeBroadcastRepo) get(t *testing.T, id string) *models.Broadcast {
	t.Helper()
	b, err := r.ByID(context.Background(), uuid.MustParse(id))
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func testProviderConfig() config.ProviderConfig {
	return config.ProviderConfig{
		Kind:             config.ProviderMock,
		AudienceID:       "aud_test",
		DefaultFromEmail: "news@example.com",
		// Keep batches fast; pacing itself is covered by the batch tests
		ContactRemovalInterval: 0,
		SendInterval:           0,
	}
}

func testRenderer(t *testing.T) *services.EmailRenderer {
	t.Helper()
	r, err := services.NewEmailRenderer(config.BrandingConfig{
		NewsletterName: "Weekly",
		PublicBaseURL:  "https://news.example.com",
	})
	require.NoError(t, err)
	return r
}

type flowFixture struct {
	subscribers *fakeSubscriberRepo
	broadcasts  *fakeBroadcastRepo
	provider    *services.MockEmailProvider
	subFlow     SubscriberFlow
	bcFlow      BroadcastFlow
}

func newFlowFixture(t *testing.T, cache CategoryStatsCache) *flowFixture {
	t.Helper()
	return newPacedFlowFixture(t, cache, testProviderConfig())
}

// newPacedFlowFixture builds the fixture with explicit provider pacing
func newPacedFlowFixture(t *testing.T, cache CategoryStatsCache, cfg config.ProviderConfig) *flowFixture {
	t.Helper()
	f := &flowFixture{
		subscribers: newFakeSubscriberRepo(),
		broadcasts:  newFakeBroadcastRepo(),
		provider:    services.NewMockEmailProvider(nil),
	}
	f.subFlow = NewSubscriberFlow(f.subscribers, f.provider, cache, cfg, zap.NewNop())
	f.bcFlow = NewBroadcastFlow(f.broadcasts, f.subscribers, f.provider, testRenderer(t), cfg, zap.NewNop())
	return f
}

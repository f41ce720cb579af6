package businessflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/newsletter-dashboard/app/dto"
	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/amirphl/newsletter-dashboard/models"
	"github.com/amirphl/newsletter-dashboard/repository"
	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestStatsCache(t *testing.T) (*RedisCategoryStatsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return NewRedisCategoryStatsCache(rc, config.CacheConfig{RedisPrefix: "test:", DefaultTTL: 0}), mr
}

func TestCreateSubscriber(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes email and registers the contact", func(t *testing.T) {
		f := newFlowFixture(t, nil)

		out, err := f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "  Alice@Example.COM ", Category: "updates"})
		require.NoError(t, err)

		assert.Equal(t, "alice@example.com", out.Email)
		assert.Equal(t, "active", out.Status)
		assert.Equal(t, "updates", out.Category)
		assert.Equal(t, models.SubscriberSourceAPI, out.Source)
		require.NotNil(t, out.ProviderContactID)
		assert.True(t, strings.HasPrefix(*out.ProviderContactID, "contact_"))

		calls := f.provider.Calls("CreateContact")
		require.Len(t, calls, 1)
		assert.Equal(t, "alice@example.com", calls[0].Target)

		stored, err := f.subscribers.ByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.NotEmpty(t, stored.UnsubscribeToken)
	})

	t.Run("defaults to the general category", func(t *testing.T) {
		f := newFlowFixture(t, nil)

		out, err := f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "bob@example.com"})
		require.NoError(t, err)
		assert.Equal(t, "general", out.Category)
	})

	t.Run("second create of the same email conflicts", func(t *testing.T) {
		f := newFlowFixture(t, nil)

		_, err := f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "dup@example.com"})
		require.NoError(t, err)

		_, err = f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "DUP@example.com "})
		require.Error(t, err)
		assert.True(t, IsConflict(err))
		assert.True(t, IsEmailAlreadySubscribed(err))

		be, ok := AsBusinessError(err)
		require.True(t, ok)
		assert.Equal(t, "Email already subscribed", be.Message)

		assert.Equal(t, 1, f.subscribers.size())
		assert.Len(t, f.provider.Calls("CreateContact"), 1)
	})

	t.Run("unique index violation maps to conflict", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		f.subscribers.saveErr = fmt.Errorf("failed to save entity: %w", repository.ErrDuplicateKey)

		_, err := f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "race@example.com"})
		require.Error(t, err)
		assert.True(t, IsConflict(err))
	})

	t.Run("provider failure writes no row", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		f.provider.FailOn("CreateContact", errors.New("provider down"))

		_, err := f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "down@example.com"})
		require.Error(t, err)
		assert.Equal(t, KindInternal, KindOf(err))
		assert.Equal(t, 0, f.subscribers.size())
	})

	t.Run("invalid email is a bad request", func(t *testing.T) {
		f := newFlowFixture(t, nil)

		_, err := f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "not-an-email"})
		require.Error(t, err)
		assert.True(t, IsBadRequest(err))
		assert.Empty(t, f.provider.Calls("CreateContact"))
	})
}

func TestListSubscribersPagination(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)

	var all []string
	for i := 0; i < 23; i++ {
		s := f.subscribers.seed(t, fmt.Sprintf("user%02d@example.com", i), models.SubscriberCategoryGeneral)
		all = append([]string{s.ID.String()}, all...)
	}

	var got []string
	for page := 1; page <= 5; page++ {
		resp, err := f.subFlow.ListSubscribers(ctx, &dto.ListSubscribersRequest{Page: page, Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, int64(23), resp.Pagination.Total)
		assert.Equal(t, 5, resp.Pagination.TotalPages)
		for _, s := range resp.Subscribers {
			got = append(got, s.ID)
		}
	}
	assert.Equal(t, all, got)

	resp, err := f.subFlow.ListSubscribers(ctx, &dto.ListSubscribersRequest{Page: 6, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, resp.Subscribers)
}

func TestListSubscribersValidation(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)

	tests := []struct {
		name string
		req  dto.ListSubscribersRequest
		want error
	}{
		{"page zero", dto.ListSubscribersRequest{Page: 0, Limit: 10}, ErrInvalidPage},
		{"limit zero", dto.ListSubscribersRequest{Page: 1, Limit: 0}, ErrInvalidPageSize},
		{"limit above max", dto.ListSubscribersRequest{Page: 1, Limit: utils.MaxPageSize + 1}, ErrInvalidPageSize},
		{"unknown category", dto.ListSubscribersRequest{Page: 1, Limit: 10, Category: utils.ToPtr("sports")}, ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.subFlow.ListSubscribers(ctx, &tt.req)
			require.Error(t, err)
			assert.True(t, IsBadRequest(err))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestListSubscribersCategoryFilter(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)
	f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryGeneral)
	f.subscribers.seed(t, "b@example.com", models.SubscriberCategoryPromotions)

	resp, err := f.subFlow.ListSubscribers(ctx, &dto.ListSubscribersRequest{Page: 1, Limit: 10, Category: utils.ToPtr("promotions")})
	require.NoError(t, err)
	require.Len(t, resp.Subscribers, 1)
	assert.Equal(t, "b@example.com", resp.Subscribers[0].Email)
	assert.Equal(t, int64(1), resp.Pagination.Total)
}

func TestGetAndUpdateSubscriber(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)
	s := f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryGeneral)

	got, err := f.subFlow.GetSubscriber(ctx, s.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = f.subFlow.GetSubscriber(ctx, "not-a-uuid")
	assert.True(t, IsSubscriberNotFound(err))

	updated, err := f.subFlow.UpdateSubscriber(ctx, s.ID.String(), &dto.UpdateSubscriberRequest{Category: utils.ToPtr("updates")})
	require.NoError(t, err)
	assert.Equal(t, "updates", updated.Category)
	assert.Equal(t, "active", updated.Status)

	_, err = f.subFlow.UpdateSubscriber(ctx, s.ID.String(), &dto.UpdateSubscriberRequest{Status: utils.ToPtr("paused")})
	assert.True(t, IsBadRequest(err))

	_, err = f.subFlow.UpdateSubscriber(ctx, "6f1b0f6e-7d7e-4f0e-9a55-8a4b2a1c0d11", &dto.UpdateSubscriberRequest{Status: utils.ToPtr("unsubscribed")})
	assert.True(t, IsNotFound(err))
}

func TestDeleteSubscriber(t *testing.T) {
	ctx := context.Background()

	t.Run("provider failure does not block the local delete", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		s := f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryGeneral)
		f.provider.FailOn("RemoveContact", errors.New("provider down"))

		out, err := f.subFlow.DeleteSubscriber(ctx, s.ID.String())
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", out.Email)
		assert.Equal(t, 0, f.subscribers.size())
	})

	t.Run("removes by contact id, else by email", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		withID := f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryGeneral)
		withoutID := &models.Subscriber{Email: "b@example.com", UnsubscribeToken: "tok-b"}
		require.NoError(t, f.subscribers.Save(ctx, withoutID))

		_, err := f.subFlow.DeleteSubscriber(ctx, withID.ID.String())
		require.NoError(t, err)
		_, err = f.subFlow.DeleteSubscriber(ctx, withoutID.ID.String())
		require.NoError(t, err)

		calls := f.provider.Calls("RemoveContact")
		require.Len(t, calls, 2)
		assert.Equal(t, "contact_a@example.com", calls[0].Target)
		assert.Equal(t, "b@example.com", calls[1].Target)
	})

	t.Run("missing subscriber", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		_, err := f.subFlow.DeleteSubscriber(ctx, "6f1b0f6e-7d7e-4f0e-9a55-8a4b2a1c0d11")
		assert.True(t, IsSubscriberNotFound(err))
		assert.Empty(t, f.provider.Calls("RemoveContact"))
	})
}

func TestDeleteManySubscribers(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes every matched row whatever the provider says", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		a := f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryGeneral)
		b := f.subscribers.seed(t, "b@example.com", models.SubscriberCategoryGeneral)
		c := f.subscribers.seed(t, "c@example.com", models.SubscriberCategoryUpdates)
		keep := f.subscribers.seed(t, "keep@example.com", models.SubscriberCategoryUpdates)
		f.provider.FailFor("contact_b@example.com", errors.New("rate limited"))

		resp, err := f.subFlow.DeleteManySubscribers(ctx, &dto.BulkDeleteRequest{
			IDs: []string{a.ID.String(), b.ID.String(), c.ID.String(), "6f1b0f6e-7d7e-4f0e-9a55-8a4b2a1c0d11"},
		})
		require.NoError(t, err)

		assert.Equal(t, int64(3), resp.Deleted)
		assert.Equal(t, 2, resp.Provider.Successful)
		assert.Equal(t, 1, resp.Provider.Failed)
		assert.Equal(t, 3, resp.Provider.Successful+resp.Provider.Failed)
		assert.Len(t, f.provider.Calls("RemoveContact"), 3)

		assert.Equal(t, 1, f.subscribers.size())
		left, _ := f.subscribers.ByID(ctx, keep.ID)
		assert.NotNil(t, left)
	})

	t.Run("no match is not found", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		_, err := f.subFlow.DeleteManySubscribers(ctx, &dto.BulkDeleteRequest{IDs: []string{"6f1b0f6e-7d7e-4f0e-9a55-8a4b2a1c0d11"}})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.ErrorIs(t, err, ErrNoSubscribersMatched)
	})

	t.Run("empty ids", func(t *testing.T) {
		f := newFlowFixture(t, nil)
		_, err := f.subFlow.DeleteManySubscribers(ctx, &dto.BulkDeleteRequest{})
		assert.True(t, IsBadRequest(err))
	})
}

func TestDeleteManySubscribersOutlivesRequestDeadline(t *testing.T) {
	cfg := testProviderConfig()
	cfg.ContactRemovalInterval = 20 * time.Millisecond
	f := newPacedFlowFixture(t, nil, cfg)
	var ids []string
	for i := 0; i < 6; i++ {
		s := f.subscribers.seed(t, fmt.Sprintf("reader%d@example.com", i), models.SubscriberCategoryGeneral)
		ids = append(ids, s.ID.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	resp, err := f.subFlow.DeleteManySubscribers(ctx, &dto.BulkDeleteRequest{IDs: ids})
	require.NoError(t, err)

	assert.Equal(t, int64(6), resp.Deleted)
	assert.Equal(t, 6, resp.Provider.Successful)
	assert.Zero(t, resp.Provider.Failed)
	assert.Len(t, f.provider.Calls("RemoveContact"), 6, "every provider contact removed")
	assert.Zero(t, f.subscribers.size())
}

func TestImportSubscribersOutlivesRequestDeadline(t *testing.T) {
	cfg := testProviderConfig()
	cfg.ContactRemovalInterval = 20 * time.Millisecond
	f := newPacedFlowFixture(t, nil, cfg)

	lines := []string{"email"}
	for i := 0; i < 6; i++ {
		lines = append(lines, fmt.Sprintf("reader%d@example.com", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	resp, err := f.subFlow.ImportSubscribers(ctx, &dto.ImportSubscribersRequest{Filename: "list.csv", Format: "csv"}, strings.NewReader(strings.Join(lines, "\n")))
	require.NoError(t, err)

	assert.Equal(t, 6, resp.Total)
	assert.Equal(t, 6, resp.Imported)
	assert.Zero(t, resp.Failed)
	assert.Len(t, f.provider.Calls("CreateContact"), 6)
	assert.Equal(t, 6, f.subscribers.size())
}

func TestCategoryStatsScenario(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestStatsCache(t)
	f := newFlowFixture(t, cache)

	a, err := f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "a@x.com", Category: "general"})
	require.NoError(t, err)

	stats, err := f.subFlow.GetCategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Stats["general"])
	assert.Len(t, stats.Stats, len(models.SubscriberCategories))
	assert.Equal(t, int64(0), stats.Stats["promotions"])
	assert.True(t, mr.Exists("test:"+categoryStatsCacheKey))

	_, err = f.subFlow.CreateSubscriber(ctx, &dto.CreateSubscriberRequest{Email: "b@x.com", Category: "general"})
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:"+categoryStatsCacheKey))

	stats, err = f.subFlow.GetCategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Stats["general"])
	assert.Equal(t, int64(2), stats.TotalActive)

	_, err = f.subFlow.DeleteSubscriber(ctx, a.ID)
	require.NoError(t, err)

	stats, err = f.subFlow.GetCategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Stats["general"])
}

func TestCategoryStatsSkipsWriteAfterConcurrentChange(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestStatsCache(t)
	f := newFlowFixture(t, cache)
	s := f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryGeneral)

	once := true
	f.subscribers.afterCount = func() {
		if !once {
			return
		}
		once = false
		_, err := f.subFlow.UpdateSubscriber(ctx, s.ID.String(), &dto.UpdateSubscriberRequest{Status: utils.ToPtr("unsubscribed")})
		require.NoError(t, err)
	}

	stats, err := f.subFlow.GetCategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Stats["general"], "counted before the update")
	assert.False(t, mr.Exists("test:"+categoryStatsCacheKey), "stale count must not be cached")

	stats, err = f.subFlow.GetCategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Stats["general"])
	assert.True(t, mr.Exists("test:"+categoryStatsCacheKey))
}

func TestRedisCategoryStatsCacheVersioning(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	cache := NewRedisCategoryStatsCache(rc, config.CacheConfig{RedisPrefix: "test:", DefaultTTL: time.Minute})
	stats := map[models.SubscriberCategory]int64{models.SubscriberCategoryGeneral: 4}

	v, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	stored, err := cache.Set(ctx, v, stats)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Equal(t, time.Minute, mr.TTL("test:"+categoryStatsCacheKey))

	got, ok, err := cache.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(4), got[models.SubscriberCategoryGeneral])

	require.NoError(t, cache.Invalidate(ctx))
	_, ok, err = cache.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err = cache.Set(ctx, v, stats)
	require.NoError(t, err)
	assert.False(t, stored, "write under an old version is dropped")
	assert.False(t, mr.Exists("test:"+categoryStatsCacheKey))

	current, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
	stored, err = cache.Set(ctx, current, stats)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestCategoryStatsIgnoresUnsubscribed(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)
	f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryNewsletters)
	s := f.subscribers.seed(t, "b@example.com", models.SubscriberCategoryNewsletters)

	_, err := f.subFlow.UpdateSubscriber(ctx, s.ID.String(), &dto.UpdateSubscriberRequest{Status: utils.ToPtr("unsubscribed")})
	require.NoError(t, err)

	stats, err := f.subFlow.GetCategoryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Stats["newsletters"])
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)
	s := f.subscribers.seed(t, "a@example.com", models.SubscriberCategoryGeneral)

	resp, err := f.subFlow.Unsubscribe(ctx, s.UnsubscribeToken)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", resp.Email)
	assert.Equal(t, "unsubscribed", resp.Status)

	resp, err = f.subFlow.Unsubscribe(ctx, s.UnsubscribeToken)
	require.NoError(t, err)
	assert.Equal(t, "unsubscribed", resp.Status)

	_, err = f.subFlow.Unsubscribe(ctx, "unknown")
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrUnknownUnsubscribe)
}

func TestImportSubscribersCSV(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)
	f.subscribers.seed(t, "existing@example.com", models.SubscriberCategoryGeneral)

	csv := strings.Join([]string{
		"Name,Email Address",
		"Alice,alice@example.com",
		"Existing,EXISTING@example.com",
		"Broken,not-an-email",
		"Blank,",
		"Bob,bob@example.com",
	}, "\n")

	resp, err := f.subFlow.ImportSubscribers(ctx, &dto.ImportSubscribersRequest{Filename: "list.csv", Format: "csv", Category: "updates"}, strings.NewReader(csv))
	require.NoError(t, err)

	assert.Equal(t, 4, resp.Total)
	assert.Equal(t, 2, resp.Imported)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 4, resp.Errors[0].Row)
	assert.Equal(t, "not-an-email", resp.Errors[0].Email)

	alice, err := f.subscribers.ByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, models.SubscriberCategoryUpdates, alice.Category)
	assert.Equal(t, models.SubscriberSourceImport, alice.Source)
}

func TestImportSubscribersXLSX(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)

	xl := excelize.NewFile()
	sheet := xl.GetSheetName(0)
	require.NoError(t, xl.SetSheetRow(sheet, "A1", &[]any{"email"}))
	require.NoError(t, xl.SetSheetRow(sheet, "A2", &[]any{"one@example.com"}))
	require.NoError(t, xl.SetSheetRow(sheet, "A3", &[]any{"two@example.com"}))
	buf, err := xl.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, xl.Close())

	resp, err := f.subFlow.ImportSubscribers(ctx, &dto.ImportSubscribersRequest{Format: "xlsx"}, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Imported)
	assert.Equal(t, 2, f.subscribers.size())
}

func TestImportSubscribersRejectsBadFiles(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)

	_, err := f.subFlow.ImportSubscribers(ctx, &dto.ImportSubscribersRequest{Format: "csv"}, strings.NewReader("name,phone\nA,123"))
	assert.ErrorIs(t, err, ErrEmailColumnMissing)
	assert.True(t, IsBadRequest(err))

	_, err = f.subFlow.ImportSubscribers(ctx, &dto.ImportSubscribersRequest{Format: "csv"}, strings.NewReader("email\n"))
	assert.ErrorIs(t, err, ErrEmptyImport)

	_, err = f.subFlow.ImportSubscribers(ctx, &dto.ImportSubscribersRequest{Format: "json"}, strings.NewReader("{}"))
	assert.ErrorIs(t, err, ErrUnsupportedImportFormat)
}

func TestExportSubscribers(t *testing.T) {
	ctx := context.Background()
	f := newFlowFixture(t, nil)
	f.subscribers.seed(t, "old@example.com", models.SubscriberCategoryGeneral)
	f.subscribers.seed(t, "new@example.com", models.SubscriberCategoryGeneral)
	f.subscribers.seed(t, "promo@example.com", models.SubscriberCategoryPromotions)

	resp, err := f.subFlow.ExportSubscribers(ctx, &dto.ExportSubscribersRequest{Category: utils.ToPtr("general")})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Rows)
	assert.True(t, strings.HasSuffix(resp.Filename, ".xlsx"))

	xl, err := excelize.OpenReader(bytes.NewReader(resp.Data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	rows, err := xl.GetRows(exportSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "email", rows[0][1])
	assert.Equal(t, "new@example.com", rows[1][1])
	assert.Equal(t, "old@example.com", rows[2][1])
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amirphl/newsletter-dashboard/app/dto"
	businessflow "github.com/amirphl/newsletter-dashboard/business_flow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubSubscriberFlow struct {
	businessflow.SubscriberFlow

	listReq   *dto.ListSubscribersRequest
	createErr error
	importReq *dto.ImportSubscribersRequest
	imported  string
	deadline  time.Duration
}

func (s *stubSubscriberFlow) ListSubscribers(_ context.Context, req *dto.ListSubscribersRequest) (*dto.ListSubscribersResponse, error) {
	s.listReq = req
	if req.Limit > 100 {
		return nil, &businessflow.BusinessError{Code: "INVALID_PAGE_SIZE", Message: "Invalid page size", Kind: businessflow.KindBadRequest, Err: businessflow.ErrInvalidPageSize}
	}
	return &dto.ListSubscribersResponse{Subscribers: []dto.SubscriberDTO{}, Pagination: dto.PaginationInfo{Page: req.Page, Limit: req.Limit}}, nil
}

func (s *stubSubscriberFlow) CreateSubscriber(_ context.Context, req *dto.CreateSubscriberRequest) (*dto.SubscriberDTO, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &dto.SubscriberDTO{ID: "id-1", Email: req.Email, Status: "active", Category: "general"}, nil
}

func (s *stubSubscriberFlow) GetSubscriber(_ context.Context, id string) (*dto.SubscriberDTO, error) {
	return nil, &businessflow.BusinessError{Code: "SUBSCRIBER_NOT_FOUND", Message: "Subscriber not found", Kind: businessflow.KindNotFound, Err: businessflow.ErrSubscriberNotFound}
}

func (s *stubSubscriberFlow) ImportSubscribers(ctx context.Context, req *dto.ImportSubscribersRequest, file io.Reader) (*dto.ImportSubscribersResponse, error) {
	s.importReq = req
	raw, _ := io.ReadAll(file)
	s.imported = string(raw)
	if dl, ok := ctx.Deadline(); ok {
		s.deadline = time.Until(dl)
	}
	return &dto.ImportSubscribersResponse{Total: 1, Imported: 1}, nil
}

func (s *stubSubscriberFlow) ExportSubscribers(_ context.Context, _ *dto.ExportSubscribersRequest) (*dto.ExportSubscribersResponse, error) {
	return &dto.ExportSubscribersResponse{Filename: "subscribers-20300101-000000.xlsx", Data: []byte("PK-data"), Rows: 1}, nil
}

type stubBroadcastFlow struct {
	businessflow.BroadcastFlow

	sendReq *dto.SendBroadcastRequest
	sendErr error
}

func (s *stubBroadcastFlow) SendBroadcast(_ context.Context, id string, req *dto.SendBroadcastRequest) (*dto.SendBroadcastResponse, error) {
	s.sendReq = req
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &dto.SendBroadcastResponse{Broadcast: dto.BroadcastDTO{ID: id, Status: "scheduled", ScheduledAt: req.ScheduledAt}}, nil
}

func (s *stubBroadcastFlow) PreviewBroadcast(_ context.Context, _ string) (*dto.PreviewBroadcastResponse, error) {
	return &dto.PreviewBroadcastResponse{Subject: "Hi", HTML: "<html>hi</html>"}, nil
}

func newTestApp(t *testing.T, subs *stubSubscriberFlow, bcs *stubBroadcastFlow) *fiber.App {
	t.Helper()
	log := zaptest.NewLogger(t)
	timeouts := Timeouts{Dispatch: time.Minute}
	sh := NewSubscriberHandler(subs, log, timeouts)
	bh := NewBroadcastHandler(bcs, log, timeouts)

	app := fiber.New()
	app.Get("/subscribers", sh.ListSubscribers)
	app.Post("/subscribers", sh.CreateSubscriber)
	app.Post("/subscribers/import", sh.ImportSubscribers)
	app.Get("/subscribers/export", sh.ExportSubscribers)
	app.Get("/subscribers/:id", sh.GetSubscriber)
	app.Post("/broadcasts/:id/send", bh.SendBroadcast)
	app.Get("/broadcasts/:id/preview", bh.PreviewBroadcast)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, dto.APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	var out dto.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func errorCode(t *testing.T, r dto.APIResponse) string {
	t.Helper()
	detail, ok := r.Error.(map[string]any)
	require.True(t, ok, "error detail missing")
	code, _ := detail["code"].(string)
	return code
}

func TestListSubscribersPagination(t *testing.T) {
	subs := &stubSubscriberFlow{}
	app := newTestApp(t, subs, &stubBroadcastFlow{})

	resp, body := doJSON(t, app, http.MethodGet, "/subscribers", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)
	assert.Equal(t, 1, subs.listReq.Page)
	assert.Equal(t, 10, subs.listReq.Limit)
	assert.Nil(t, subs.listReq.Category)

	resp, _ = doJSON(t, app, http.MethodGet, "/subscribers?page=2&limit=5&category=updates", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, subs.listReq.Page)
	require.NotNil(t, subs.listReq.Category)
	assert.Equal(t, "updates", *subs.listReq.Category)

	resp, body = doJSON(t, app, http.MethodGet, "/subscribers?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PAGINATION", errorCode(t, body))

	resp, body = doJSON(t, app, http.MethodGet, "/subscribers?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_PAGE_SIZE", errorCode(t, body))

	resp, body = doJSON(t, app, http.MethodGet, "/subscribers?category=sports", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, body))
}

func TestCreateSubscriberResponses(t *testing.T) {
	cases := []struct {
		name       string
		body       any
		flowErr    error
		wantStatus int
		wantCode   string
	}{
		{name: "created", body: dto.CreateSubscriberRequest{Email: "a@example.com"}, wantStatus: http.StatusCreated},
		{name: "invalid email", body: dto.CreateSubscriberRequest{Email: "nope"}, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{
			name:       "conflict",
			body:       dto.CreateSubscriberRequest{Email: "a@example.com"},
			flowErr:    &businessflow.BusinessError{Code: "EMAIL_ALREADY_SUBSCRIBED", Message: "Email already subscribed", Kind: businessflow.KindConflict},
			wantStatus: http.StatusConflict,
			wantCode:   "EMAIL_ALREADY_SUBSCRIBED",
		},
		{
			name:       "provider failure hides cause",
			body:       dto.CreateSubscriberRequest{Email: "a@example.com"},
			flowErr:    businessflow.NewBusinessError("PROVIDER_CONTACT_FAILED", "Failed to register contact", errors.New("api key leaked")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "PROVIDER_CONTACT_FAILED",
		},
		{
			name:       "unclassified error",
			body:       dto.CreateSubscriberRequest{Email: "a@example.com"},
			flowErr:    errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "CREATE_SUBSCRIBER_FAILED",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, &stubSubscriberFlow{createErr: tc.flowErr}, &stubBroadcastFlow{})
			resp, body := doJSON(t, app, http.MethodPost, "/subscribers", tc.body)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			if tc.wantCode == "" {
				assert.True(t, body.Success)
				return
			}
			assert.False(t, body.Success)
			assert.Equal(t, tc.wantCode, errorCode(t, body))
			assert.NotContains(t, body.Message, "api key leaked")
		})
	}
}

func TestGetSubscriberNotFound(t *testing.T) {
	app := newTestApp(t, &stubSubscriberFlow{}, &stubBroadcastFlow{})
	resp, body := doJSON(t, app, http.MethodGet, "/subscribers/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Subscriber not found", body.Message)
}

func TestImportSubscribersUpload(t *testing.T) {
	subs := &stubSubscriberFlow{}
	app := newTestApp(t, subs, &stubBroadcastFlow{})

	upload := func(filename, content string) *http.Response {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, w.WriteField("category", "updates"))
		require.NoError(t, w.Close())

		req := httptest.NewRequest(http.MethodPost, "/subscribers/import", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := upload("List.CSV", "email\na@example.com\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, subs.importReq)
	assert.Equal(t, "csv", subs.importReq.Format)
	assert.Equal(t, "updates", subs.importReq.Category)
	assert.Equal(t, "email\na@example.com\n", subs.imported)
	assert.Greater(t, subs.deadline, 30*time.Second)

	resp = upload("list.txt", "email\n")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/subscribers/import", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportSubscribersDownload(t *testing.T) {
	app := newTestApp(t, &stubSubscriberFlow{}, &stubBroadcastFlow{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/subscribers/export?status=active", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=subscribers-20300101-000000.xlsx", resp.Header.Get("Content-Disposition"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK-data", string(raw))
}

func TestSendBroadcastHandler(t *testing.T) {
	t.Run("empty body sends now", func(t *testing.T) {
		bcs := &stubBroadcastFlow{}
		app := newTestApp(t, &stubSubscriberFlow{}, bcs)
		resp, _ := doJSON(t, app, http.MethodPost, "/broadcasts/b1/send", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, bcs.sendReq)
		assert.Nil(t, bcs.sendReq.ScheduledAt)
	})

	t.Run("scheduled", func(t *testing.T) {
		bcs := &stubBroadcastFlow{}
		app := newTestApp(t, &stubSubscriberFlow{}, bcs)
		at := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
		resp, body := doJSON(t, app, http.MethodPost, "/broadcasts/b1/send", dto.SendBroadcastRequest{ScheduledAt: &at})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Broadcast scheduled successfully", body.Message)
		require.NotNil(t, bcs.sendReq.ScheduledAt)
		assert.True(t, at.Equal(*bcs.sendReq.ScheduledAt))
	})

	t.Run("failure maps to 500", func(t *testing.T) {
		cause := fmt.Errorf("%w: %w", businessflow.ErrBroadcastSendFailed, businessflow.ErrNoActiveSubscribers)
		bcs := &stubBroadcastFlow{sendErr: businessflow.NewBusinessError("BROADCAST_SEND_FAILED", "Failed to send broadcast", cause)}
		app := newTestApp(t, &stubSubscriberFlow{}, bcs)
		resp, body := doJSON(t, app, http.MethodPost, "/broadcasts/b1/send", nil)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "Failed to send broadcast", body.Message)
	})

	t.Run("category schedule is a bad request", func(t *testing.T) {
		bcs := &stubBroadcastFlow{sendErr: &businessflow.BusinessError{Code: "CATEGORY_SCHEDULE_NOT_ALLOWED", Message: "Category broadcasts cannot be scheduled", Kind: businessflow.KindBadRequest}}
		app := newTestApp(t, &stubSubscriberFlow{}, bcs)
		resp, body := doJSON(t, app, http.MethodPost, "/broadcasts/b1/send", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "CATEGORY_SCHEDULE_NOT_ALLOWED", errorCode(t, body))
	})

	t.Run("malformed body", func(t *testing.T) {
		app := newTestApp(t, &stubSubscriberFlow{}, &stubBroadcastFlow{})
		req := httptest.NewRequest(http.MethodPost, "/broadcasts/b1/send", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPreviewBroadcastFormats(t *testing.T) {
	app := newTestApp(t, &stubSubscriberFlow{}, &stubBroadcastFlow{})

	resp, body := doJSON(t, app, http.MethodGet, "/broadcasts/b1/preview", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Success)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/broadcasts/b1/preview?format=html", nil))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "<html>hi</html>", string(raw))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

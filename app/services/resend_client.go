package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/newsletter-dashboard/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const defaultResendBaseURL = "https://api.resend.com"

var (
	emailProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_provider_requests_total",
			Help: "Total number of email provider API calls",
		},
		[]string{"operation", "status"},
	)

	emailProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_provider_request_duration_seconds",
			Help:    "Email provider API call latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// ResendClient talks to the Resend REST API
type ResendClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	logger     *zap.Logger
}

// NewResendClient creates a Resend client; an empty baseURL uses the public API
func NewResendClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *ResendClient {
	if timeout <= 0 {
		timeout = utils.ProviderTimeout
	}
	if baseURL == "" {
		baseURL = defaultResendBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResendClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
		logger:     logger,
	}
}

type resendContactReq struct {
	Email        string `json:"email"`
	Unsubscribed bool   `json:"unsubscribed"`
}

type resendBroadcastReq struct {
	AudienceID string `json:"audience_id"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	HTML       string `json:"html"`
	Name       string `json:"name,omitempty"`
}

type resendSendBroadcastReq struct {
	ScheduledAt string `json:"scheduled_at,omitempty"`
}

type resendEmailReq struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendIDResp struct {
	ID string `json:"id"`
}

type resendErrorResp struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func (c *ResendClient) CreateContact(ctx context.Context, in ContactInput) (string, error) {
	var out resendIDResp
	path := "/audiences/" + url.PathEscape(in.AudienceID) + "/contacts"
	body := resendContactReq{Email: in.Email, Unsubscribed: in.Unsubscribed}
	if err := c.do(ctx, "create_contact", http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *ResendClient) RemoveContact(ctx context.Context, ref ContactRef) error {
	key := ref.Key()
	if key == "" {
		return fmt.Errorf("resend: contact reference has neither id nor email")
	}
	path := "/audiences/" + url.PathEscape(ref.AudienceID) + "/contacts/" + url.PathEscape(key)
	return c.do(ctx, "remove_contact", http.MethodDelete, path, nil, nil)
}

func (c *ResendClient) CreateBroadcast(ctx context.Context, in BroadcastInput) (string, error) {
	var out resendIDResp
	body := resendBroadcastReq{
		AudienceID: in.AudienceID,
		From:       in.From,
		Subject:    in.Subject,
		HTML:       in.HTML,
		Name:       in.Name,
	}
	if err := c.do(ctx, "create_broadcast", http.MethodPost, "/broadcasts", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *ResendClient) SendBroadcast(ctx context.Context, broadcastID string, scheduledAt *time.Time) error {
	body := resendSendBroadcastReq{}
	if scheduledAt != nil {
		body.ScheduledAt = scheduledAt.UTC().Format(time.RFC3339)
	}
	path := "/broadcasts/" + url.PathEscape(broadcastID) + "/send"
	return c.do(ctx, "send_broadcast", http.MethodPost, path, body, nil)
}

func (c *ResendClient) RemoveBroadcast(ctx context.Context, broadcastID string) error {
	return c.do(ctx, "remove_broadcast", http.MethodDelete, "/broadcasts/"+url.PathEscape(broadcastID), nil, nil)
}

func (c *ResendClient) SendEmail(ctx context.Context, in EmailInput) error {
	body := resendEmailReq{
		From:    in.From,
		To:      []string{in.To},
		Subject: in.Subject,
		HTML:    in.HTML,
	}
	return c.do(ctx, "send_email", http.MethodPost, "/emails", body, nil)
}

// do performs one API call and decodes a 2xx body into out when out is non-nil
func (c *ResendClient) do(ctx context.Context, operation, method, path string, payload any, out any) error {
	start := time.Now()
	status := "error"
	defer func() {
		emailProviderRequestsTotal.WithLabelValues(operation, status).Inc()
		emailProviderRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("resend: failed to encode %s request: %w", operation, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("resend: failed to build %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("resend: %s request failed: %w", operation, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{StatusCode: resp.StatusCode}
		var env resendErrorResp
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			perr.Name = env.Name
			perr.Message = env.Message
		} else {
			perr.Message = strings.TrimSpace(string(raw))
		}
		c.logger.Warn("email provider call failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.String("name", perr.Name),
			zap.String("message", perr.Message))
		return perr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("resend: failed to decode %s response: %w", operation, err)
	}
	return nil
}

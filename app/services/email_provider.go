// Package services provides external service integrations such as the email provider and the email renderer
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrProviderNotFound is returned when the provider has no record of the referenced resource
var ErrProviderNotFound = errors.New("provider resource not found")

// ProviderError is a non-2xx answer from the email provider
type ProviderError struct {
	StatusCode int
	Name       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("email provider: %d %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("email provider: %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrProviderNotFound) match a 404 answer
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderNotFound && e.StatusCode == 404
}

// ContactInput describes a contact to add to an audience
type ContactInput struct {
	Email        string
	AudienceID   string
	Unsubscribed bool
}

// ContactRef identifies a contact by provider id or, when ID is empty, by email
type ContactRef struct {
	ID         string
	Email      string
	AudienceID string
}

// Key returns the path segment the provider accepts for this contact
func (r ContactRef) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Email
}

// BroadcastInput describes an audience-wide campaign
type BroadcastInput struct {
	AudienceID string
	From       string
	Subject    string
	HTML       string
	Name       string
}

// EmailInput describes a single transactional email
type EmailInput struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// EmailProvider is the contact-list and delivery surface the flows depend on
type EmailProvider interface {
	CreateContact(ctx context.Context, in ContactInput) (string, error)
	RemoveContact(ctx context.Context, ref ContactRef) error
	CreateBroadcast(ctx context.Context, in BroadcastInput) (string, error)
	SendBroadcast(ctx context.Context, broadcastID string, scheduledAt *time.Time) error
	RemoveBroadcast(ctx context.Context, broadcastID string) error
	SendEmail(ctx context.Context, in EmailInput) error
}

// MockProviderCall is one recorded call on MockEmailProvider
type MockProviderCall struct {
	Method      string
	Target      string
	ScheduledAt *time.Time
	Email       *EmailInput
	Broadcast   *BroadcastInput
	At          time.Time
}

// DefaultMockCallHistory is how many calls a MockEmailProvider keeps by default
const DefaultMockCallHistory = 1000

// MockEmailProvider records calls in memory; used in tests and with EMAIL_PROVIDER=mock.
// Only the most recent calls are kept so a long-running process stays bounded.
type MockEmailProvider struct {
	mu       sync.Mutex
	calls    []MockProviderCall
	maxCalls int
	fail     map[string]error
	failTo   map[string]error
	logger   *zap.Logger

	// EmptyBroadcastID makes CreateBroadcast answer with no id
	EmptyBroadcastID bool
}

// NewMockEmailProvider creates a new mock provider; a nil logger disables logging
func NewMockEmailProvider(logger *zap.Logger) *MockEmailProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockEmailProvider{
		maxCalls: DefaultMockCallHistory,
		fail:     make(map[string]error),
		failTo:   make(map[string]error),
		logger:   logger,
	}
}

// SetCallHistory changes how many recent calls are kept; n <= 0 keeps none
func (m *MockEmailProvider) SetCallHistory(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 {
		n = 0
	}
	m.maxCalls = n
	m.trim()
}

// trim drops the oldest calls beyond maxCalls; callers hold mu
func (m *MockEmailProvider) trim() {
	if over := len(m.calls) - m.maxCalls; over > 0 {
		m.calls = append(m.calls[:0:0], m.calls[over:]...)
	}
}

// FailOn makes every call of method return err; a nil err clears it
func (m *MockEmailProvider) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, method)
		return
	}
	m.fail[method] = err
}

// FailFor makes calls targeting key (an email, contact id or broadcast id) return err
func (m *MockEmailProvider) FailFor(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTo[key] = err
}

// Calls returns the recorded calls, optionally narrowed to one method
func (m *MockEmailProvider) Calls(method string) []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockProviderCall, 0, len(m.calls))
	for _, c := range m.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and injected failures
func (m *MockEmailProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.fail = make(map[string]error)
	m.failTo = make(map[string]error)
	m.EmptyBroadcastID = false
}

func (m *MockEmailProvider) record(call MockProviderCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.At = time.Now()
	m.calls = append(m.calls, call)
	m.trim()
	if err, ok := m.fail[call.Method]; ok {
		return err
	}
	if err, ok := m.failTo[call.Target]; ok {
		return err
	}
	return nil
}

func (m *MockEmailProvider) CreateContact(ctx context.Context, in ContactInput) (string, error) {
	if err := m.record(MockProviderCall{Method: "CreateContact", Target: in.Email}); err != nil {
		return "", err
	}
	m.logger.Debug("mock contact created", zap.String("email", in.Email))
	return "contact_" + uuid.NewString(), nil
}

func (m *MockEmailProvider) RemoveContact(ctx context.Context, ref ContactRef) error {
	return m.record(MockProviderCall{Method: "RemoveContact", Target: ref.Key()})
}

func (m *MockEmailProvider) CreateBroadcast(ctx context.Context, in BroadcastInput) (string, error) {
	if err := m.record(MockProviderCall{Method: "CreateBroadcast", Target: in.Name, Broadcast: &in}); err != nil {
		return "", err
	}
	if m.EmptyBroadcastID {
		return "", nil
	}
	return "broadcast_" + uuid.NewString(), nil
}

func (m *MockEmailProvider) SendBroadcast(ctx context.Context, broadcastID string, scheduledAt *time.Time) error {
	return m.record(MockProviderCall{Method: "SendBroadcast", Target: broadcastID, ScheduledAt: scheduledAt})
}

func (m *MockEmailProvider) RemoveBroadcast(ctx context.Context, broadcastID string) error {
	return m.record(MockProviderCall{Method: "RemoveBroadcast", Target: broadcastID})
}

func (m *MockEmailProvider) SendEmail(ctx context.Context, in EmailInput) error {
	if err := m.record(MockProviderCall{Method: "SendEmail", Target: in.To, Email: &in}); err != nil {
		return err
	}
	m.logger.Debug("mock email sent", zap.String("to", in.To), zap.String("subject", in.Subject))
	return nil
}

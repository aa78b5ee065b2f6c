package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/traveljournal/internal/models"
	pkglogger "github.com/BradenHooton/traveljournal/pkg/logger"
)

// errPromptExhausted is returned by MockPrompter when a test did not script
// enough answers.
var errPromptExhausted = errors.New("mock prompter: no scripted answer left")

// MockAccountStore implements AccountStore in memory for testing
type MockAccountStore struct {
	mu        sync.Mutex
	accounts  []*models.Account
	SaveFunc  func() error
	SaveCalls int
}

// NewMockAccountStore creates a store seeded with copies of accounts
func NewMockAccountStore(accounts ...*models.Account) *MockAccountStore {
	m := &MockAccountStore{}
	for _, acc := range accounts {
		m.accounts = append(m.accounts, acc.Clone())
	}
	return m
}

func (m *MockAccountStore) Exists(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexOf(username) >= 0
}

func (m *MockAccountStore) Get(username string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(username); i >= 0 {
		return m.accounts[i].Clone(), nil
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) Add(acc *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append(m.accounts, acc.Clone())
}

func (m *MockAccountStore) Update(acc *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(acc.Username); i >= 0 {
		m.accounts[i] = acc.Clone()
	}
}

func (m *MockAccountStore) Delete(username string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(username)
	if i < 0 {
		return false
	}
	m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
	return true
}

func (m *MockAccountStore) GetAll() []*models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Account, len(m.accounts))
	for i, acc := range m.accounts {
		out[i] = acc.Clone()
	}
	return out
}

func (m *MockAccountStore) Save() error {
	m.mu.Lock()
	m.SaveCalls++
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc()
	}
	return nil
}

func (m *MockAccountStore) indexOf(username string) int {
	for i, acc := range m.accounts {
		if acc.Username == username {
			return i
		}
	}
	return -1
}

// MockEmailSender implements EmailSender for testing. Every message is
// recorded; SendFunc can fail or inspect deliveries.
type MockEmailSender struct {
	mu       sync.Mutex
	Sent     []SentEmail
	SendFunc func(ctx context.Context, to, subject, body string) error
}

// SentEmail is one message captured by MockEmailSender
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

func (m *MockEmailSender) Send(ctx context.Context, to, subject, body string) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, to, subject, body); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

// Last returns the most recent message, or the zero value if none was sent
func (m *MockEmailSender) Last() SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return SentEmail{}
	}
	return m.Sent[len(m.Sent)-1]
}

// MockTwoFactor implements TwoFactor for testing
type MockTwoFactor struct {
	SendEmailCodeFunc func(ctx context.Context, acc *models.Account, purpose string) bool
	VerifyCodeFunc    func(acc *models.Account, input string) bool
	ClearPendingCalls int
}

func (m *MockTwoFactor) SendEmailCode(ctx context.Context, acc *models.Account, purpose string) bool {
	if m.SendEmailCodeFunc != nil {
		return m.SendEmailCodeFunc(ctx, acc, purpose)
	}
	return false
}

func (m *MockTwoFactor) VerifyCode(acc *models.Account, input string) bool {
	if m.VerifyCodeFunc != nil {
		return m.VerifyCodeFunc(acc, input)
	}
	return false
}

func (m *MockTwoFactor) ClearPending(acc *models.Account) {
	m.ClearPendingCalls++
	acc.PendingTwoFactorCodeHash = ""
	acc.PendingTwoFactorExpiresAt = nil
}

// MockTimingDelay implements TimingDelay for testing
type MockTimingDelay struct {
	Calls     int
	Successes []bool
}

func (m *MockTimingDelay) WaitFrom(startTime time.Time, success bool) {
	m.Calls++
	m.Successes = append(m.Successes, success)
}

// MockPrompter implements Prompter by replaying scripted answers. Ask,
// AskSecret and Confirm each consume from their own queue.
type MockPrompter struct {
	Answers  []string
	Secrets  []string
	Confirms []bool

	Asked []string
	Infos []string
	Warns []string

	// OnAsk runs before each Ask answer is returned, letting a test read
	// state such as the code that was just mailed.
	OnAsk func(label string) (string, bool)
}

func (m *MockPrompter) Ask(ctx context.Context, label string) (string, error) {
	m.Asked = append(m.Asked, label)
	if m.OnAsk != nil {
		if answer, ok := m.OnAsk(label); ok {
			return answer, nil
		}
	}
	if len(m.Answers) == 0 {
		return "", errPromptExhausted
	}
	answer := m.Answers[0]
	m.Answers = m.Answers[1:]
	return answer, nil
}

func (m *MockPrompter) AskSecret(ctx context.Context, label string) (string, error) {
	m.Asked = append(m.Asked, label)
	if len(m.Secrets) == 0 {
		return "", errPromptExhausted
	}
	secret := m.Secrets[0]
	m.Secrets = m.Secrets[1:]
	return secret, nil
}

func (m *MockPrompter) Confirm(ctx context.Context, label string) (bool, error) {
	m.Asked = append(m.Asked, label)
	if len(m.Confirms) == 0 {
		return false, errPromptExhausted
	}
	answer := m.Confirms[0]
	m.Confirms = m.Confirms[1:]
	return answer, nil
}

func (m *MockPrompter) Info(msg string) {
	m.Infos = append(m.Infos, msg)
}

func (m *MockPrompter) Warn(msg string) {
	m.Warns = append(m.Warns, msg)
}

// newTestLoggers returns a discarding logger and an audit logger over it
func newTestLoggers() (*slog.Logger, *pkglogger.AuditLogger) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return logger, pkglogger.NewAuditLogger(logger)
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/pkg/config"
	"github.com/sgescolar/sge-api/pkg/mailer"
)

type mockMailer struct {
	mu       sync.Mutex
	sent     []mailer.Message
	failures int
}

func (m *mockMailer) Send(msg mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockMailer) delivered() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mailer.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestNotifyDeliversThroughQueue(t *testing.T) {
	m := &mockMailer{}
	svc := NewNotifierService(m, config.NotifierConfig{Workers: 1}, nil, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Notify("maria@example.com", "Assunto", "Corpo")

	waitFor(t, func() bool { return len(m.delivered()) == 1 })
	msg := m.delivered()[0]
	assert.Equal(t, "maria@example.com", msg.To)
	assert.Equal(t, "Assunto", msg.Subject)
	assert.Equal(t, "Corpo", msg.Body)
}

func TestNotifyDropsEmptyRecipient(t *testing.T) {
	m := &mockMailer{}
	svc := NewNotifierService(m, config.NotifierConfig{Workers: 1}, nil, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Notify("", "Assunto", "Corpo")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, m.delivered())
}

func TestNotifyBeforeStartIsSwallowed(t *testing.T) {
	m := &mockMailer{}
	svc := NewNotifierService(m, config.NotifierConfig{Workers: 1}, nil, zap.NewNop())

	// Must not panic or block; the failure is logged only.
	svc.Notify("maria@example.com", "Assunto", "Corpo")
	assert.Empty(t, m.delivered())
}

func TestNotifyRetriesTransientFailure(t *testing.T) {
	m := &mockMailer{failures: 1}
	svc := NewNotifierService(m, config.NotifierConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}, nil, zap.NewNop())
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Notify("maria@example.com", "Assunto", "Corpo")

	waitFor(t, func() bool { return len(m.delivered()) == 1 })
	require.Len(t, m.delivered(), 1)
}

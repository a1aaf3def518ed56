package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-recon/pkg/circuitbreaker"
	"example.com/payment-recon/services/recon/internal/domain"
)

// mockPendingSource — настраиваемый источник зависших транзакций.
type mockPendingSource struct {
	pending []*domain.Transaction
	listErr error
}

func (m *mockPendingSource) ListPendingOlderThan(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.pending, nil
}

// mockProviderClient — мок клиента шлюза с результатами по ссылкам.
type mockProviderClient struct {
	mu      sync.Mutex
	results map[string]*VerificationResult
	errs    map[string]error
	calls   []string
}

func newMockProviderClient() *mockProviderClient {
	return &mockProviderClient{
		results: make(map[string]*VerificationResult),
		errs:    make(map[string]error),
	}
}

func (m *mockProviderClient) VerifyTransaction(ctx context.Context, reference string) (*VerificationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, reference)
	if err, ok := m.errs[reference]; ok {
		return nil, err
	}
	if res, ok := m.results[reference]; ok {
		return res, nil
	}
	return &VerificationResult{Reference: reference, Found: false}, nil
}

// mockReconciler собирает результаты, дошедшие до движка сверки.
type mockReconciler struct {
	mu       sync.Mutex
	received []*VerificationResult
	err      error
}

func (m *mockReconciler) ReconcileVerification(ctx context.Context, res *VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received = append(m.received, res)
	return m.err
}

func pendingTxn(ref string) *domain.Transaction {
	return &domain.Transaction{
		ID:                "txn-" + ref,
		Reference:         ref,
		ProviderReference: ref,
		Status:            domain.TransactionStatusPending,
	}
}

func setupPollerTest(t *testing.T) (*StatusPoller, *mockPendingSource, *mockProviderClient, *mockReconciler) {
	t.Helper()

	source := &mockPendingSource{}
	client := newMockProviderClient()
	recon := &mockReconciler{}
	poller := NewStatusPoller(source, client, recon, PollerConfig{
		Interval: time.Minute,
		Age:      10 * time.Minute,
		Batch:    50,
	})
	return poller, source, client, recon
}

func TestPollOnce_ReconcilesFinalStatuses(t *testing.T) {
	poller, source, client, recon := setupPollerTest(t)

	source.pending = []*domain.Transaction{
		pendingTxn("transaction_1755800000000_aaa"),
		pendingTxn("transaction_1755800000000_bbb"),
	}
	client.results["transaction_1755800000000_aaa"] = &VerificationResult{
		Reference: "transaction_1755800000000_aaa",
		Found:     true,
		Status:    "successful",
		Claimed:   domain.ClaimedPaid,
		Final:     true,
		Amount:    150000,
		Currency:  "RUB",
	}
	client.results["transaction_1755800000000_bbb"] = &VerificationResult{
		Reference: "transaction_1755800000000_bbb",
		Found:     true,
		Status:    "failed",
		Claimed:   domain.ClaimedFailed,
		Final:     true,
	}

	poller.pollOnce(context.Background())

	require.Len(t, recon.received, 2)
	assert.Equal(t, domain.ClaimedPaid, recon.received[0].Claimed)
	assert.Equal(t, domain.ClaimedFailed, recon.received[1].Claimed)
}

func TestPollOnce_SkipsNonFinalAndUnknown(t *testing.T) {
	poller, source, client, recon := setupPollerTest(t)

	source.pending = []*domain.Transaction{
		pendingTxn("transaction_1755800000000_aaa"),
		pendingTxn("transaction_1755800000000_bbb"),
	}
	// Нефинальный статус: опрос вернётся к нему в следующем цикле.
	client.results["transaction_1755800000000_aaa"] = &VerificationResult{
		Reference: "transaction_1755800000000_aaa",
		Found:     true,
		Status:    "pending",
		Final:     false,
	}
	// Вторую ссылку провайдер не знает.

	poller.pollOnce(context.Background())

	assert.Len(t, client.calls, 2)
	assert.Empty(t, recon.received)
}

func TestPollOnce_BreakerOpenAbortsCycle(t *testing.T) {
	poller, source, client, recon := setupPollerTest(t)

	source.pending = []*domain.Transaction{
		pendingTxn("transaction_1755800000000_aaa"),
		pendingTxn("transaction_1755800000000_bbb"),
		pendingTxn("transaction_1755800000000_ccc"),
	}
	client.errs["transaction_1755800000000_aaa"] = circuitbreaker.ErrBreakerOpen

	poller.pollOnce(context.Background())

	// Провайдер лежит: остаток пачки не опрашивается, догоним в следующем цикле.
	assert.Len(t, client.calls, 1)
	assert.Empty(t, recon.received)
}

func TestPollOnce_SingleFailureDoesNotStopBatch(t *testing.T) {
	poller, source, client, recon := setupPollerTest(t)

	source.pending = []*domain.Transaction{
		pendingTxn("transaction_1755800000000_aaa"),
		pendingTxn("transaction_1755800000000_bbb"),
	}
	client.errs["transaction_1755800000000_aaa"] = errors.New("read tcp: i/o timeout")
	client.results["transaction_1755800000000_bbb"] = &VerificationResult{
		Reference: "transaction_1755800000000_bbb",
		Found:     true,
		Status:    "successful",
		Claimed:   domain.ClaimedPaid,
		Final:     true,
	}

	poller.pollOnce(context.Background())

	assert.Len(t, client.calls, 2)
	require.Len(t, recon.received, 1)
	assert.Equal(t, "transaction_1755800000000_bbb", recon.received[0].Reference)
}

func TestPollOnce_SourceErrorSkipsCycle(t *testing.T) {
	poller, source, client, _ := setupPollerTest(t)
	source.listErr = errors.New("mysql: server has gone away")

	poller.pollOnce(context.Background())

	assert.Empty(t, client.calls)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	poller, _, _, _ := setupPollerTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("опрос не остановился после отмены контекста")
	}
}

package refund

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/recon-engine/recon-engine/internal/domain/chain"
	"github.com/recon-engine/recon-engine/internal/domain/chain/mocks"
	"github.com/recon-engine/recon-engine/internal/domain/order"
	domainRefund "github.com/recon-engine/recon-engine/internal/domain/refund"
	"github.com/recon-engine/recon-engine/internal/domain/session"
)

const (
	testTreasury = "0xtreasury"
	testSender   = "0xsender"
	testHot      = "0xhot"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]*session.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *memSessionRepo) GetByTxHash(ctx context.Context, txHash string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.TxHash == txHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) ListCreatedSince(ctx context.Context, product string, since time.Time) ([]*session.Session, error) {
	return nil, nil
}

func (r *memSessionRepo) Update(ctx context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*order.Order)}
}

func (r *memOrderRepo) Create(ctx context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ExternalOrderID] = &cp
	return nil
}

func (r *memOrderRepo) GetByExternalID(ctx context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (r *memOrderRepo) GetByTxHash(ctx context.Context, txHash string) (*order.Order, error) {
	return nil, nil
}

func (r *memOrderRepo) ListCreatedSince(ctx context.Context, since time.Time) ([]*order.Order, error) {
	return nil, nil
}

func (r *memOrderRepo) Update(ctx context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.ExternalOrderID] = &cp
	return nil
}

func (r *memOrderRepo) SetFulfilled(ctx context.Context, id string) error { return nil }

type memMutexRepo struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemMutexRepo() *memMutexRepo {
	return &memMutexRepo{held: make(map[string]bool)}
}

func (r *memMutexRepo) Acquire(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[key] {
		return domainRefund.ErrRefundInProgress
	}
	r.held[key] = true
	return nil
}

func (r *memMutexRepo) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, key)
	return nil
}

type memLedger struct {
	mu        sync.Mutex
	processed map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{processed: make(map[string]bool)}
}

func (l *memLedger) IsProcessed(ctx context.Context, partition, txHash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[partition+"/"+txHash], nil
}

func (l *memLedger) MarkProcessed(ctx context.Context, partition, txHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[partition+"/"+txHash] = true
	return nil
}

type refundFixture struct {
	client   *mocks.MockClient
	sessions *memSessionRepo
	orders   *memOrderRepo
	mutexes  *memMutexRepo
	ledger   *memLedger
	svc      *Service
}

func newRefundFixture(t *testing.T) *refundFixture {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)

	registry := chain.NewRegistry()
	registry.Register(1, client)

	f := &refundFixture{
		client:   client,
		sessions: newMemSessionRepo(),
		orders:   newMemOrderRepo(),
		mutexes:  newMemMutexRepo(),
		ledger:   newMemLedger(),
	}
	policies := map[uint64]ChainPolicy{
		1: {Treasury: testTreasury, MinConfirmations: 1, PriceSymbol: "ETH", TokenDecimals: 18},
	}
	f.svc = NewService(registry, f.sessions, f.orders, f.mutexes, f.ledger, nil, policies, time.Second, zerolog.Nop())
	return f
}

func onChainPayment(hash string, value int64) *chain.Transaction {
	return &chain.Transaction{
		Hash:      hash,
		ChainID:   1,
		From:      testSender,
		To:        testTreasury,
		Value:     big.NewInt(value),
		Confirmed: true,
	}
}

func (f *refundFixture) expectTransfer(hash string, amount int64, refundHash string) {
	f.client.EXPECT().HotWalletAddress().Return(testHot)
	f.client.EXPECT().GetBalance(gomock.Any(), testHot).Return(big.NewInt(1_000_000), nil)
	f.client.EXPECT().SendNativeTransfer(gomock.Any(), testSender, big.NewInt(amount)).Return(refundHash, nil)
	f.client.EXPECT().WaitForConfirmation(gomock.Any(), refundHash, uint64(1)).Return(nil)
}

func TestRefundUnusedTransaction(t *testing.T) {
	f := newRefundFixture(t)
	tx := onChainPayment("0xaa", 1000)
	f.client.EXPECT().GetTransaction(gomock.Any(), "0xaa").Return(tx, nil)
	f.expectTransfer("0xaa", 900, "0xrefund")

	result, err := f.svc.RefundUnusedTransaction(context.Background(), "idServer", "idServer", 9000, tx, 0)
	require.NoError(t, err)
	assert.Equal(t, "0xrefund", result.RefundTxHash)
	assert.Equal(t, big.NewInt(900), result.Amount)

	// The hash is permanently bound to a synthetic refunded session.
	synthetic, err := f.sessions.GetByTxHash(context.Background(), "0xaa")
	require.NoError(t, err)
	require.NotNil(t, synthetic)
	assert.Equal(t, session.StatusRefunded, synthetic.Status)
	assert.Equal(t, "0xrefund", synthetic.RefundTxHash)
	assert.Equal(t, "idServer", synthetic.Product)

	processed, err := f.ledger.IsProcessed(context.Background(), "idServer", "0xaa")
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Empty(t, f.mutexes.held, "mutex released after completion")
}

// A transaction whose hash is already bound to any session must never be
// refunded a second time.
func TestRefundUnusedTransactionAlreadyBound(t *testing.T) {
	f := newRefundFixture(t)
	existing := &session.Session{
		ID: uuid.New(), Product: "idServer", Status: session.StatusRefunded,
		ChainID: 1, TxHash: "0xaa", RefundTxHash: "0xold", CreatedAt: time.Now(),
	}
	require.NoError(t, f.sessions.Create(context.Background(), existing))

	result, err := f.svc.RefundUnusedTransaction(context.Background(), "idServer", "idServer", 9000, onChainPayment("0xaa", 1000), 0)
	require.NoError(t, err)
	assert.True(t, result.AlreadyRefunded)
	assert.Equal(t, "0xold", result.RefundTxHash)

	processed, err := f.ledger.IsProcessed(context.Background(), "idServer", "0xaa")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestRefundUnusedTransactionMutexHeld(t *testing.T) {
	f := newRefundFixture(t)
	tx := onChainPayment("0xaa", 1000)
	f.client.EXPECT().GetTransaction(gomock.Any(), "0xaa").Return(tx, nil)
	require.NoError(t, f.mutexes.Acquire(context.Background(), "tx:0xaa"))

	_, err := f.svc.RefundUnusedTransaction(context.Background(), "idServer", "idServer", 9000, tx, 0)
	require.ErrorIs(t, err, domainRefund.ErrRefundInProgress)
}

func TestRefundUnusedTransactionWrongRecipient(t *testing.T) {
	f := newRefundFixture(t)
	tx := onChainPayment("0xaa", 1000)
	diverted := *tx
	diverted.To = "0xsomeoneelse"
	f.client.EXPECT().GetTransaction(gomock.Any(), "0xaa").Return(&diverted, nil)

	_, err := f.svc.RefundUnusedTransaction(context.Background(), "idServer", "idServer", 9000, tx, 0)
	require.Error(t, err)
	assert.Empty(t, f.mutexes.held)
}

func TestRefundInsufficientFunds(t *testing.T) {
	f := newRefundFixture(t)
	tx := onChainPayment("0xaa", 1000)
	f.client.EXPECT().GetTransaction(gomock.Any(), "0xaa").Return(tx, nil)
	f.client.EXPECT().HotWalletAddress().Return(testHot)
	f.client.EXPECT().GetBalance(gomock.Any(), testHot).Return(big.NewInt(10), nil)

	_, err := f.svc.RefundUnusedTransaction(context.Background(), "idServer", "idServer", 9000, tx, 0)
	require.ErrorIs(t, err, domainRefund.ErrInsufficientFunds)
	assert.Empty(t, f.mutexes.held, "mutex released on failure")
}

// A transfer that is submitted but never confirms within the timeout must
// still bind the hash, so the next run sees the refund instead of sending a
// second transfer.
func TestRefundUnusedTransactionConfirmationTimeoutBindsHash(t *testing.T) {
	f := newRefundFixture(t)
	tx := onChainPayment("0xbb", 1000)
	f.client.EXPECT().GetTransaction(gomock.Any(), "0xbb").Return(tx, nil)
	f.client.EXPECT().HotWalletAddress().Return(testHot)
	f.client.EXPECT().GetBalance(gomock.Any(), testHot).Return(big.NewInt(1_000_000), nil)
	f.client.EXPECT().SendNativeTransfer(gomock.Any(), testSender, big.NewInt(900)).Return("0xrefund", nil).Times(1)
	f.client.EXPECT().WaitForConfirmation(gomock.Any(), "0xrefund", uint64(1)).Return(context.DeadlineExceeded)

	_, err := f.svc.RefundUnusedTransaction(context.Background(), "idServer", "idServer", 9000, tx, 0)
	require.Error(t, err)

	// The synthetic session was recorded before the wait.
	synthetic, err := f.sessions.GetByTxHash(context.Background(), "0xbb")
	require.NoError(t, err)
	require.NotNil(t, synthetic)
	assert.Equal(t, "0xrefund", synthetic.RefundTxHash)

	processed, err := f.ledger.IsProcessed(context.Background(), "idServer", "0xbb")
	require.NoError(t, err)
	assert.False(t, processed, "left for the next run to settle")

	// The retry resolves via the bound session; no further transfer.
	result, err := f.svc.RefundUnusedTransaction(context.Background(), "idServer", "idServer", 9000, tx, 0)
	require.NoError(t, err)
	assert.True(t, result.AlreadyRefunded)
	assert.Equal(t, "0xrefund", result.RefundTxHash)

	processed, err = f.ledger.IsProcessed(context.Background(), "idServer", "0xbb")
	require.NoError(t, err)
	assert.True(t, processed)
}

// Same window for the failed-session path: the REFUNDED status and hash are
// saved before the confirmation wait.
func TestRefundFailedSessionConfirmationTimeoutPersistsFirst(t *testing.T) {
	f := newRefundFixture(t)
	sess := &session.Session{
		ID: uuid.New(), Product: "idServer", Status: session.StatusVerificationFailed,
		ChainID: 1, TxHash: "0xaa", CreatedAt: time.Now(),
	}
	require.NoError(t, f.sessions.Create(context.Background(), sess))

	f.client.EXPECT().GetTransaction(gomock.Any(), "0xaa").Return(onChainPayment("0xaa", 1000), nil)
	f.client.EXPECT().HotWalletAddress().Return(testHot)
	f.client.EXPECT().GetBalance(gomock.Any(), testHot).Return(big.NewInt(1_000_000), nil)
	f.client.EXPECT().SendNativeTransfer(gomock.Any(), testSender, big.NewInt(500)).Return("0xrefund", nil).Times(1)
	f.client.EXPECT().WaitForConfirmation(gomock.Any(), "0xrefund", uint64(1)).Return(context.DeadlineExceeded)

	_, err := f.svc.RefundFailedSession(context.Background(), "idServer", 5000, sess)
	require.Error(t, err)

	stored, err := f.sessions.GetByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRefunded, stored.Status)
	assert.Equal(t, "0xrefund", stored.RefundTxHash)

	// Retry hits the terminal-state re-check.
	result, err := f.svc.RefundFailedSession(context.Background(), "idServer", 5000, stored)
	require.NoError(t, err)
	assert.True(t, result.AlreadyRefunded)
}

func TestRefundFailedSession(t *testing.T) {
	f := newRefundFixture(t)
	sess := &session.Session{
		ID: uuid.New(), Product: "idServer", Status: session.StatusVerificationFailed,
		ChainID: 1, TxHash: "0xaa", CreatedAt: time.Now(),
	}
	require.NoError(t, f.sessions.Create(context.Background(), sess))

	f.client.EXPECT().GetTransaction(gomock.Any(), "0xaa").Return(onChainPayment("0xaa", 1000), nil)
	f.expectTransfer("0xaa", 500, "0xrefund")

	result, err := f.svc.RefundFailedSession(context.Background(), "idServer", 5000, sess)
	require.NoError(t, err)
	assert.Equal(t, "0xrefund", result.RefundTxHash)
	assert.Equal(t, big.NewInt(500), result.Amount)

	stored, err := f.sessions.GetByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusRefunded, stored.Status)
	assert.Equal(t, "0xrefund", stored.RefundTxHash)
}

// A crash after the transfer leaves the session REFUNDED but the ledger
// unmarked; the retry must not send a second transfer.
func TestRefundFailedSessionIdempotentAfterCrash(t *testing.T) {
	f := newRefundFixture(t)
	sess := &session.Session{
		ID: uuid.New(), Product: "idServer", Status: session.StatusRefunded,
		ChainID: 1, TxHash: "0xaa", RefundTxHash: "0xrefund", CreatedAt: time.Now(),
	}
	require.NoError(t, f.sessions.Create(context.Background(), sess))

	result, err := f.svc.RefundFailedSession(context.Background(), "idServer", 5000, sess)
	require.NoError(t, err)
	assert.True(t, result.AlreadyRefunded)

	processed, err := f.ledger.IsProcessed(context.Background(), "idServer", "0xaa")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestRefundFailedSessionRejectsNeedsPayment(t *testing.T) {
	f := newRefundFixture(t)
	sess := &session.Session{ID: uuid.New(), Product: "idServer", Status: session.StatusNeedsPayment, CreatedAt: time.Now()}

	_, err := f.svc.RefundFailedSession(context.Background(), "idServer", 5000, sess)
	require.Error(t, err)
}

func TestRefundOrder(t *testing.T) {
	f := newRefundFixture(t)
	o := &order.Order{ExternalOrderID: "0102", Category: order.CategoryMintSBT, ChainID: 1, TxHash: "0xaa", CreatedAt: time.Now()}
	require.NoError(t, f.orders.Create(context.Background(), o))

	f.client.EXPECT().GetTransaction(gomock.Any(), "0xaa").Return(onChainPayment("0xaa", 1000), nil)
	f.expectTransfer("0xaa", 1000, "0xrefund")

	result, err := f.svc.RefundOrder(context.Background(), "orders", 10000, o)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), result.Amount)

	stored, err := f.orders.GetByExternalID(context.Background(), "0102")
	require.NoError(t, err)
	assert.True(t, stored.Refunded)
	assert.Equal(t, "0xrefund", stored.RefundTxHash)
}

func TestRefundOrderRejectsFulfilled(t *testing.T) {
	f := newRefundFixture(t)
	o := &order.Order{ExternalOrderID: "0102", ChainID: 1, TxHash: "0xaa", Fulfilled: true, CreatedAt: time.Now()}

	_, err := f.svc.RefundOrder(context.Background(), "orders", 10000, o)
	require.ErrorIs(t, err, order.ErrAlreadyFulfilled)
}

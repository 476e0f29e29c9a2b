package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recon-engine/recon-engine/internal/domain/session"
)

// SessionRepository implements session.Repository.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions
		(id, product, sig_digest, idv_provider, status, chain_id, tx_hash, refund_tx_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.Product, s.SigDigest, s.IDVProvider, s.Status, s.ChainID, s.TxHash, s.RefundTxHash, s.CreatedAt)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, product, sig_digest, idv_provider, status, chain_id, tx_hash, refund_tx_hash, created_at
		FROM sessions WHERE id=$1
	`, id)
	return scanSession(row)
}

func (r *SessionRepository) GetByTxHash(ctx context.Context, txHash string) (*session.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, product, sig_digest, idv_provider, status, chain_id, tx_hash, refund_tx_hash, created_at
		FROM sessions WHERE lower(tx_hash)=lower($1)
	`, txHash)
	return scanSession(row)
}

func (r *SessionRepository) ListCreatedSince(ctx context.Context, product string, since time.Time) ([]*session.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product, sig_digest, idv_provider, status, chain_id, tx_hash, refund_tx_hash, created_at
		FROM sessions WHERE product=$1 AND created_at >= $2 ORDER BY created_at ASC
	`, product, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Update(ctx context.Context, s *session.Session) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status=$1, chain_id=$2, tx_hash=$3, refund_tx_hash=$4
		WHERE id=$5
	`, s.Status, s.ChainID, s.TxHash, s.RefundTxHash, s.ID)
	return err
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var s session.Session
	if err := row.Scan(&s.ID, &s.Product, &s.SigDigest, &s.IDVProvider, &s.Status, &s.ChainID, &s.TxHash, &s.RefundTxHash, &s.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

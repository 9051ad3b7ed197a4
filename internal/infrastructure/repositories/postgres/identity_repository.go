package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

// PostgresIdentitySource reads KYC state maintained by the account service.
type PostgresIdentitySource struct {
	pool *pgxpool.Pool
}

func NewPostgresIdentitySource(pool *pgxpool.Pool) *PostgresIdentitySource {
	return &PostgresIdentitySource{pool: pool}
}

func (s *PostgresIdentitySource) GetVerification(ctx context.Context, userID domain.UserID) (*domain.Verification, error) {
	v := domain.Verification{UserID: userID}
	err := s.pool.QueryRow(ctx, `
SELECT seller_tier, identity_verified, checked_at
FROM user_verifications
WHERE user_id = $1
`, string(userID)).Scan(&v.SellerTier, &v.IdentityVerified, &v.CheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrVerificationAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("get verification %s: %w", userID, err)
	}
	return &v, nil
}

package repositories

import (
	"context"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TwoFactorPolicyRepository reads step-up policies. Policies are configured
// by an external admin surface; this engine never writes them.
type TwoFactorPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewTwoFactorPolicyRepository creates a new TwoFactorPolicyRepository
func NewTwoFactorPolicyRepository(db *database.DB) *TwoFactorPolicyRepository {
	return &TwoFactorPolicyRepository{pool: db.Pool}
}

// GetByUserID retrieves the policy for a user. models.ErrNotFound means no
// policy is configured, which callers treat as step-up disabled.
func (r *TwoFactorPolicyRepository) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorPolicy, error) {
	query := `
		SELECT user_id, enabled, required_actions, channel, channel_config
		FROM two_factor_policies
		WHERE user_id = $1
	`

	var policy models.TwoFactorPolicy
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&policy.UserID, &policy.Enabled, &policy.RequiredActions,
		&policy.Channel, &policy.ChannelConfig,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &policy, nil
}

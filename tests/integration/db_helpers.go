package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("bastion"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Goose drives migrations through database/sql, so adapt the pool config
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := database.MigrateUp(sqlDB); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"two_factor_policies",
		"otp_challenges",
		"security_events",
		"login_attempts",
		"accounts",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// InitializeRepositories creates all repository instances from the database wrapper
func InitializeRepositories(db *database.DB) (
	*repositories.AccountRepository,
	*repositories.LoginAttemptRepository,
	*repositories.SecurityEventRepository,
	*repositories.OtpChallengeRepository,
	*repositories.TwoFactorPolicyRepository,
) {
	return repositories.NewAccountRepository(db),
		repositories.NewLoginAttemptRepository(db),
		repositories.NewSecurityEventRepository(db),
		repositories.NewOtpChallengeRepository(db),
		repositories.NewTwoFactorPolicyRepository(db)
}

// SeedAccount inserts a test account with a hashed password
func SeedAccount(ctx context.Context, pool *pgxpool.Pool, email, password string) (*models.Account, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO accounts (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, role, failed_attempt_count, created_at, updated_at
	`

	var account models.Account
	err = pool.QueryRow(ctx, query, email, hashedPassword).Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.FailedAttemptCount,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account: %w", err)
	}

	return &account, nil
}

// SeedTwoFactorPolicy enables step-up verification for an account
func SeedTwoFactorPolicy(ctx context.Context, pool *pgxpool.Pool, accountID, channel string, actions []string) error {
	query := `
		INSERT INTO two_factor_policies (user_id, enabled, required_actions, channel)
		VALUES ($1, true, $2, $3)
	`

	if _, err := pool.Exec(ctx, query, accountID, actions, channel); err != nil {
		return fmt.Errorf("failed to insert two-factor policy: %w", err)
	}

	return nil
}

// SeedExpiredLock puts an account into a lock whose expiry has already passed
func SeedExpiredLock(ctx context.Context, pool *pgxpool.Pool, accountID string, failures int) error {
	query := `
		UPDATE accounts
		SET failed_attempt_count = $2, locked_until = NOW() - INTERVAL '1 minute'
		WHERE id = $1
	`

	if _, err := pool.Exec(ctx, query, accountID, failures); err != nil {
		return fmt.Errorf("failed to seed expired lock: %w", err)
	}

	return nil
}

// BackdateChallenges shifts all of a subject's challenges into the past so
// re-issuance caps and expiry can be exercised without sleeping
func BackdateChallenges(ctx context.Context, pool *pgxpool.Pool, subjectID string, age time.Duration) error {
	query := `
		UPDATE otp_challenges
		SET created_at = created_at - make_interval(secs => $2),
		    expires_at = expires_at - make_interval(secs => $2)
		WHERE subject_id = $1
	`

	if _, err := pool.Exec(ctx, query, subjectID, age.Seconds()); err != nil {
		return fmt.Errorf("failed to backdate challenges: %w", err)
	}

	return nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillswap-backend/internal/sessions"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrSelfFeedback    = errors.New("cannot give feedback to yourself")
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

type PostgresOptions struct {
	MaxConnections int32
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

func NewPostgresDB(ctx context.Context, databaseURL string, opts PostgresOptions) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	if opts.MaxConnections > 0 {
		config.MaxConns = opts.MaxConnections
	}
	if opts.MaxIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxIdleTime
	}
	if opts.MaxLifetime > 0 {
		config.MaxConnLifetime = opts.MaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() {
	db.pool.Close()
}

// RunMigrations creates the tables this service owns. Users are written by
// the external profile/auth service; the table is created here only so a
// fresh local database works out of the box.
func (db *PostgresDB) RunMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			rating DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_ratings INTEGER NOT NULL DEFAULT 0,
			skills_teach TEXT[] NOT NULL DEFAULT '{}',
			skills_learn TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chat_rooms (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			room_ref TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS feedback (
			id UUID PRIMARY KEY,
			from_user_id TEXT NOT NULL,
			to_user_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			session_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

// GetProfile is the read-only lookup against the external profile store.
func (db *PostgresDB) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	p := &Profile{}
	query := `
		SELECT id, username, rating, total_ratings, skills_teach, skills_learn, created_at
		FROM users WHERE id = $1`

	err := db.pool.QueryRow(ctx, query, userID).Scan(
		&p.ID, &p.Username, &p.Rating, &p.TotalRatings,
		&p.SkillsTeach, &p.SkillsLearn, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CreateRoom allocates the chat resource for a matched pair and returns its
// opaque reference. Implements sessions.RoomCreator.
func (db *PostgresDB) CreateRoom(ctx context.Context, participantA, participantB string) (string, error) {
	var roomID uuid.UUID
	query := `
		INSERT INTO chat_rooms (participant_a, participant_b)
		VALUES ($1, $2)
		RETURNING id`

	if err := db.pool.QueryRow(ctx, query, participantA, participantB).Scan(&roomID); err != nil {
		return "", err
	}
	return roomID.String(), nil
}

func (db *PostgresDB) SaveSession(ctx context.Context, s *sessions.Session) error {
	query := `
		INSERT INTO sessions (id, participant_a, participant_b, room_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		s.ID, s.ParticipantA, s.ParticipantB, s.RoomRef, s.Status, s.CreatedAt)
	return err
}

func (db *PostgresDB) MarkSessionCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE sessions SET status = $2, completed_at = $3 WHERE id = $1`
	_, err := db.pool.Exec(ctx, query, id, sessions.StatusCompleted, at)
	return err
}

// AddFeedback stores a feedback row and recomputes the rated user's mean
// rating and count in the same transaction. The arithmetic lives here, with
// the reputation data, not in the matchmaking core.
func (db *PostgresDB) AddFeedback(ctx context.Context, fb *Feedback) error {
	if fb.FromUserID == fb.ToUserID {
		return ErrSelfFeedback
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if fb.ID == uuid.Nil {
		fb.ID = uuid.New()
	}

	insert := `
		INSERT INTO feedback (id, from_user_id, to_user_id, rating, comment, session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	if err := tx.QueryRow(ctx, insert,
		fb.ID, fb.FromUserID, fb.ToUserID, fb.Rating, fb.Comment, fb.SessionID).
		Scan(&fb.CreatedAt); err != nil {
		return err
	}

	update := `
		UPDATE users SET
			rating = agg.avg_rating,
			total_ratings = agg.total
		FROM (
			SELECT AVG(rating)::double precision AS avg_rating, COUNT(*) AS total
			FROM feedback WHERE to_user_id = $1
		) AS agg
		WHERE users.id = $1`
	if _, err := tx.Exec(ctx, update, fb.ToUserID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

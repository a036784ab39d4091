package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matchpoint-server/internal/config"
	"github.com/matchpoint-server/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			id VARCHAR(36) PRIMARY KEY,
			room_code VARCHAR(12) NOT NULL,
			host_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'waiting',
			current_game_index INT NOT NULL DEFAULT 0,
			game_sequence BIGINT[] NOT NULL,
			winner_id VARCHAR(36),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			id VARCHAR(36) PRIMARY KEY,
			match_id VARCHAR(36) NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			display_name VARCHAR(255) NOT NULL,
			total_score BIGINT NOT NULL DEFAULT 0,
			joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(match_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS game_results (
			match_id VARCHAR(36) NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			game_index INT NOT NULL,
			points BIGINT NOT NULL,
			winner_ids TEXT[] NOT NULL,
			recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(match_id, game_index)
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			id BIGSERIAL PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			points_value BIGINT NOT NULL DEFAULT 10
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_active_code
			ON matches(room_code) WHERE status != 'finished'`,
		`CREATE INDEX IF NOT EXISTS idx_matches_status_updated ON matches(status, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memberships_match ON memberships(match_id, joined_at)`,
		`INSERT INTO games (id, title, description, points_value) VALUES
			(1, 'Lightning Trivia', 'Rapid-fire general knowledge questions', 10),
			(2, 'Picture Puzzle', 'Guess the image from progressively revealed tiles', 15),
			(3, 'Word Scramble', 'Unscramble as many words as possible in 60 seconds', 10)
			ON CONFLICT (id) DO NOTHING`,
		`SELECT setval('games_id_seq', (SELECT GREATEST(MAX(id), 100) FROM games))`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreateMatch inserts a new match
func (r *Repository) CreateMatch(ctx context.Context, m *domain.Match) error {
	query := `
		INSERT INTO matches (id, room_code, host_id, name, status, current_game_index, game_sequence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.RoomCode,
		m.HostID,
		m.Name,
		string(m.Status),
		m.CurrentGameIndex,
		m.GameSequence,
		now,
	)
	if err != nil {
		return fmt.Errorf("creating match: %w", err)
	}
	return nil
}

const matchColumns = `id, room_code, host_id, name, status, current_game_index, game_sequence, winner_id, created_at, updated_at`

func scanMatch(row pgx.Row) (*domain.Match, error) {
	var m domain.Match
	var winner *string
	err := row.Scan(
		&m.ID,
		&m.RoomCode,
		&m.HostID,
		&m.Name,
		&m.Status,
		&m.CurrentGameIndex,
		&m.GameSequence,
		&winner,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		m.WinnerID = *winner
	}
	return &m, nil
}

// GetMatch retrieves a match by ID
func (r *Repository) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, matchID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMatchNotFound
		}
		return nil, fmt.Errorf("getting match: %w", err)
	}
	return m, nil
}

// FindActiveByCode retrieves the non-finished match holding a room code.
// Used as the durable fallback when the Redis registry has lost the binding.
func (r *Repository) FindActiveByCode(ctx context.Context, roomCode string) (*domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE room_code = $1 AND status != 'finished'`
	m, err := scanMatch(r.pool.QueryRow(ctx, query, roomCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomCodeNotFound
		}
		return nil, fmt.Errorf("finding match by code: %w", err)
	}
	return m, nil
}

// UpdateMatchProgress persists a lifecycle transition
func (r *Repository) UpdateMatchProgress(ctx context.Context, matchID string, status domain.Status, currentGameIndex int, winnerID string) error {
	query := `
		UPDATE matches
		SET status = $2, current_game_index = $3, winner_id = $4, updated_at = $5
		WHERE id = $1
	`
	var winner *string
	if winnerID != "" {
		winner = &winnerID
	}
	result, err := r.pool.Exec(ctx, query, matchID, string(status), currentGameIndex, winner, time.Now())
	if err != nil {
		return fmt.Errorf("updating match progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}

// RenameMatch updates a match's display name
func (r *Repository) RenameMatch(ctx context.Context, matchID, name string) error {
	query := `UPDATE matches SET name = $2, updated_at = $3 WHERE id = $1`
	result, err := r.pool.Exec(ctx, query, matchID, name, time.Now())
	if err != nil {
		return fmt.Errorf("renaming match: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrMatchNotFound
	}
	return nil
}

// UpsertMembership inserts a membership if the (match, user) pair is new and
// returns the stored record either way. The boolean reports whether a new
// record was created. The unique constraint makes concurrent joins race-free.
func (r *Repository) UpsertMembership(ctx context.Context, m *domain.Membership) (*domain.Membership, bool, error) {
	insert := `
		INSERT INTO memberships (id, match_id, user_id, display_name, total_score, joined_at)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (match_id, user_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, insert, m.ID, m.MatchID, m.UserID, m.DisplayName, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("upserting membership: %w", err)
	}
	created := result.RowsAffected() > 0

	query := `
		SELECT id, match_id, user_id, display_name, total_score, joined_at
		FROM memberships
		WHERE match_id = $1 AND user_id = $2
	`
	var stored domain.Membership
	err = r.pool.QueryRow(ctx, query, m.MatchID, m.UserID).Scan(
		&stored.ID,
		&stored.MatchID,
		&stored.UserID,
		&stored.DisplayName,
		&stored.TotalScore,
		&stored.JoinedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reading membership: %w", err)
	}
	return &stored, created, nil
}

// ListMemberships returns a match's roster ordered by join time
func (r *Repository) ListMemberships(ctx context.Context, matchID string) ([]domain.Membership, error) {
	query := `
		SELECT id, match_id, user_id, display_name, total_score, joined_at
		FROM memberships
		WHERE match_id = $1
		ORDER BY joined_at, id
	`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var members []domain.Membership
	for rows.Next() {
		var m domain.Membership
		err := rows.Scan(&m.ID, &m.MatchID, &m.UserID, &m.DisplayName, &m.TotalScore, &m.JoinedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		members = append(members, m)
	}
	return members, nil
}

// CountMemberships returns the number of players in a match
func (r *Repository) CountMemberships(ctx context.Context, matchID string) (int, error) {
	query := `SELECT COUNT(*) FROM memberships WHERE match_id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, matchID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting memberships: %w", err)
	}
	return count, nil
}

// RecordGameResult applies one game's outcome atomically. The primary key on
// (match_id, game_index) makes replays a no-op: the boolean reports whether
// this call actually awarded points. Score updates are additive so a lost
// update cannot occur even across processes.
func (r *Repository) RecordGameResult(ctx context.Context, matchID string, gameIndex int, winnerIDs []string, points int64) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO game_results (match_id, game_index, points, winner_ids, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id, game_index) DO NOTHING
	`
	result, err := tx.Exec(ctx, insert, matchID, gameIndex, points, winnerIDs, time.Now())
	if err != nil {
		return false, fmt.Errorf("recording game result: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Already recorded for this game index
		return false, nil
	}

	update := `
		UPDATE memberships
		SET total_score = total_score + $1
		WHERE match_id = $2 AND id = ANY($3)
	`
	tag, err := tx.Exec(ctx, update, points, matchID, winnerIDs)
	if err != nil {
		return false, fmt.Errorf("awarding points: %w", err)
	}
	if int(tag.RowsAffected()) != len(winnerIDs) {
		return false, domain.ErrMembershipNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing game result: %w", err)
	}
	return true, nil
}

// GetScores returns the full score map for a match (membership ID → total)
func (r *Repository) GetScores(ctx context.Context, matchID string) (map[string]int64, error) {
	query := `SELECT id, total_score FROM memberships WHERE match_id = $1`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("getting scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int64)
	for rows.Next() {
		var id string
		var score int64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores[id] = score
	}
	return scores, nil
}

// GetGame retrieves a catalog entry by ID
func (r *Repository) GetGame(ctx context.Context, gameID int64) (*domain.Game, error) {
	query := `SELECT id, title, description, points_value FROM games WHERE id = $1`
	var g domain.Game
	err := r.pool.QueryRow(ctx, query, gameID).Scan(&g.ID, &g.Title, &g.Description, &g.PointsValue)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGameNotFound
		}
		return nil, fmt.Errorf("getting game: %w", err)
	}
	return &g, nil
}

// GetGamesByIDs resolves catalog entries for a game sequence, preserving
// sequence order. Unknown IDs are skipped (catalog is display-only).
func (r *Repository) GetGamesByIDs(ctx context.Context, gameIDs []int64) ([]domain.Game, error) {
	if len(gameIDs) == 0 {
		return nil, nil
	}
	query := `SELECT id, title, description, points_value FROM games WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, gameIDs)
	if err != nil {
		return nil, fmt.Errorf("getting games: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]domain.Game)
	for rows.Next() {
		var g domain.Game
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &g.PointsValue); err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		byID[g.ID] = g
	}

	games := make([]domain.Game, 0, len(gameIDs))
	for _, id := range gameIDs {
		if g, ok := byID[id]; ok {
			games = append(games, g)
		}
	}
	return games, nil
}

// ListGames returns the full game catalog
func (r *Repository) ListGames(ctx context.Context) ([]domain.Game, error) {
	query := `SELECT id, title, description, points_value FROM games ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		var g domain.Game
		if err := rows.Scan(&g.ID, &g.Title, &g.Description, &g.PointsValue); err != nil {
			return nil, fmt.Errorf("scanning game: %w", err)
		}
		games = append(games, g)
	}
	return games, nil
}

// ListActiveMatches returns all non-finished matches (for registry recovery)
func (r *Repository) ListActiveMatches(ctx context.Context) ([]domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE status != 'finished'`
	return r.listMatches(ctx, query)
}

// ListFinishedBefore returns finished matches last updated before the cutoff
// (their room codes are eligible for release)
func (r *Repository) ListFinishedBefore(ctx context.Context, cutoff time.Time) ([]domain.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE status = 'finished' AND updated_at < $1`
	return r.listMatches(ctx, query, cutoff)
}

func (r *Repository) listMatches(ctx context.Context, query string, args ...interface{}) ([]domain.Match, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, *m)
	}
	return matches, nil
}

// DeleteFinishedBefore removes finished matches last updated before the
// cutoff; memberships and results cascade. Returns the number deleted.
func (r *Repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM matches WHERE status = 'finished' AND updated_at < $1`
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting finished matches: %w", err)
	}
	return result.RowsAffected(), nil
}

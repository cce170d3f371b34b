// Package storage handles database connections, schema migrations, and data operations using SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/vigilmc/vigil/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// ScoreRow is one persisted score record.
type ScoreRow struct {
	Mechanism string
	ServerID  string
	Hotkey    string
	Entry     models.ScoreCacheEntry
}

// UpsertScore inserts or replaces the persisted score for one entity.
func (r *Repository) UpsertScore(row ScoreRow) error {
	query := `
	INSERT INTO scores (
		mechanism, server_id, hotkey, score, raw_score,
		infrastructure, participation, reliability, updated_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(mechanism, server_id) DO UPDATE SET
		hotkey         = excluded.hotkey,
		score          = excluded.score,
		raw_score      = excluded.raw_score,
		infrastructure = excluded.infrastructure,
		participation  = excluded.participation,
		reliability    = excluded.reliability,
		updated_at     = excluded.updated_at;
	`

	_, err := r.db.Exec(query,
		row.Mechanism, row.ServerID, row.Hotkey,
		row.Entry.Score, row.Entry.RawScore,
		row.Entry.Components.Infrastructure,
		row.Entry.Components.Participation,
		row.Entry.Components.Reliability,
		row.Entry.UpdatedAt,
	)
	return err
}

// LoadScores returns every persisted score for one mechanism, so the score
// cache survives restarts.
func (r *Repository) LoadScores(mechanism string) ([]ScoreRow, error) {
	query := `
	SELECT server_id, hotkey, score, raw_score,
	       infrastructure, participation, reliability, updated_at
	FROM scores
	WHERE mechanism = ?
	ORDER BY server_id;
	`

	rows, err := r.db.Query(query, mechanism)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ScoreRow
	for rows.Next() {
		row := ScoreRow{Mechanism: mechanism}
		err := rows.Scan(
			&row.ServerID, &row.Hotkey,
			&row.Entry.Score, &row.Entry.RawScore,
			&row.Entry.Components.Infrastructure,
			&row.Entry.Components.Participation,
			&row.Entry.Components.Reliability,
			&row.Entry.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// DeleteStaleScores removes scores not updated since the cutoff and returns
// the number of rows removed.
func (r *Repository) DeleteStaleScores(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM scores WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertVote records a submitted vote for auditing.
func (r *Repository) InsertVote(serverID string, vote models.Vote, status int) error {
	payload, err := json.Marshal(vote)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO votes (server_id, verdict, reason, payload, status, submitted_at)
	VALUES (?, ?, ?, ?, ?, ?);
	`
	_, err = r.db.Exec(query, serverID, vote.Verdict, vote.Reason, string(payload), status, time.Now())
	return err
}

// VoteRow is one audited vote record.
type VoteRow struct {
	ServerID    string    `json:"server_id"`
	Verdict     string    `json:"verdict"`
	Reason      string    `json:"reason"`
	Status      int       `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// RecentVotes returns the latest audited votes for one entity, newest first.
func (r *Repository) RecentVotes(serverID string, limit int) ([]VoteRow, error) {
	query := `
	SELECT server_id, verdict, reason, status, submitted_at
	FROM votes
	WHERE server_id = ?
	ORDER BY submitted_at DESC
	LIMIT ?;
	`

	rows, err := r.db.Query(query, serverID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []VoteRow
	for rows.Next() {
		var row VoteRow
		if err := rows.Scan(&row.ServerID, &row.Verdict, &row.Reason, &row.Status, &row.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

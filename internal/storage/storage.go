package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"listing-bot/internal/listing"

	_ "modernc.org/sqlite"
)

type Storage struct {
	db  *sql.DB
	now func() time.Time
}

var _ listing.Store = (*Storage)(nil)

// NewStorage migrates and opens the sqlite database at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("could not initialize database schema: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// sqlite has a single writer; one pooled connection serializes every
	// statement and keeps the status compare-and-set free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, listing.ErrStorageUnavailable, err)
}

func (s *Storage) Insert(ctx context.Context, n listing.New) (int64, error) {
	query := `INSERT INTO listings (submitter_id, submitter_handle, title, description, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, n.SubmitterID, n.SubmitterHandle, n.Title, n.Description, listing.StatusPending, s.now().UTC())
	if err != nil {
		return 0, unavailable("insert listing", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("insert listing", err)
	}
	return id, nil
}

const listingColumns = `id, submitter_id, submitter_handle, title, description, status, created_at, decided_by, decided_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*listing.Listing, error) {
	var l listing.Listing
	var status string
	var decidedBy sql.NullInt64
	var decidedAt sql.NullTime
	if err := row.Scan(&l.ID, &l.SubmitterID, &l.SubmitterHandle, &l.Title, &l.Description, &status, &l.CreatedAt, &decidedBy, &decidedAt); err != nil {
		return nil, err
	}
	l.Status = listing.Status(status)
	l.DecidedBy = decidedBy.Int64
	if decidedAt.Valid {
		l.DecidedAt = decidedAt.Time
	}
	return &l, nil
}

func (s *Storage) Get(ctx context.Context, id int64) (*listing.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, listing.ErrNotFound
		}
		return nil, unavailable("get listing", err)
	}
	return l, nil
}

func (s *Storage) SetStatus(ctx context.Context, id int64, expected, next listing.Status, actorID int64) (bool, error) {
	if !listing.CanTransition(listing.StatusPending, next) {
		return false, listing.ErrIllegalTransition
	}
	if expected != listing.StatusAny && !listing.CanTransition(expected, next) {
		return false, listing.ErrIllegalTransition
	}
	// Pending is the only legal source status, so the WHERE clause is the
	// compare-and-set: of two racing deciders exactly one matches a row.
	query := `UPDATE listings SET status = ?, decided_by = ?, decided_at = ? WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query, next, actorID, s.now().UTC(), id, listing.StatusPending)
	if err != nil {
		return false, unavailable("set listing status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("set listing status", err)
	}
	return n == 1, nil
}

func (s *Storage) ListPending(ctx context.Context, limit int) ([]listing.Listing, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE status = ? ORDER BY id LIMIT ?`, listing.StatusPending, limit)
	if err != nil {
		return nil, unavailable("list pending listings", err)
	}
	defer rows.Close()

	var pending []listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, unavailable("list pending listings", err)
		}
		pending = append(pending, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list pending listings", err)
	}
	return pending, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

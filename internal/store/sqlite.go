package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies PRAGMAs, runs migrations and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite is a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const sqliteSubscriptionColumns = `user_id, city, local_time, tz_offset_at_creation, trigger_utc, enabled, last_fired_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubscription(row rowScanner) (domain.Subscription, error) {
	var (
		s       domain.Subscription
		enabled int
		last    sql.NullString
	)
	if err := row.Scan(&s.UserID, &s.City, &s.LocalTime, &s.TimezoneOffsetMinutesAtCreation,
		&s.TriggerUTC, &enabled, &last); err != nil {
		return domain.Subscription{}, err
	}
	s.Enabled = enabled != 0
	if last.Valid {
		d, err := domain.ParseDate(last.String)
		if err != nil {
			return domain.Subscription{}, fmt.Errorf("last_fired_date %q: %w", last.String, err)
		}
		s.LastFiredDate = &d
	}
	return s, nil
}

func toNullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: domain.DateString(*t), Valid: true}
}

func (r *SQLiteRepo) Get(ctx context.Context, userID int64) (domain.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteSubscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID)
	s, err := scanSQLiteSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscription{}, ErrNotFound
	}
	if err != nil {
		return domain.Subscription{}, persistErr("get subscription", err)
	}
	return s, nil
}

// Upsert inserts or replaces a subscription. LastFiredDate never moves
// backwards: the stored value wins when it is later.
func (r *SQLiteRepo) Upsert(ctx context.Context, s domain.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			user_id, city, local_time, tz_offset_at_creation, trigger_utc, enabled, last_fired_date
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			city                  = excluded.city,
			local_time            = excluded.local_time,
			tz_offset_at_creation = excluded.tz_offset_at_creation,
			trigger_utc           = excluded.trigger_utc,
			enabled               = excluded.enabled,
			last_fired_date       = CASE
				WHEN subscriptions.last_fired_date IS NULL THEN excluded.last_fired_date
				WHEN excluded.last_fired_date IS NULL THEN subscriptions.last_fired_date
				WHEN excluded.last_fired_date > subscriptions.last_fired_date THEN excluded.last_fired_date
				ELSE subscriptions.last_fired_date
			END`,
		s.UserID, s.City, s.LocalTime, s.TimezoneOffsetMinutesAtCreation, s.TriggerUTC,
		boolToInt(s.Enabled), toNullDate(s.LastFiredDate),
	)
	if err != nil {
		return persistErr("upsert subscription", err)
	}
	return nil
}

func (r *SQLiteRepo) Delete(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return persistErr("delete subscription", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete subscription", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	return r.query(ctx, "list subscriptions",
		`SELECT `+sqliteSubscriptionColumns+` FROM subscriptions ORDER BY user_id`)
}

func (r *SQLiteRepo) ListDue(ctx context.Context, triggerUTC string, today time.Time) ([]domain.Subscription, error) {
	// YYYY-MM-DD strings compare in date order.
	return r.query(ctx, "list due",
		`SELECT `+sqliteSubscriptionColumns+`
		FROM subscriptions
		WHERE enabled = 1
		  AND trigger_utc = ?
		  AND (last_fired_date IS NULL OR last_fired_date < ?)
		ORDER BY user_id`,
		triggerUTC, domain.DateString(today),
	)
}

func (r *SQLiteRepo) MarkFired(ctx context.Context, userID int64, day time.Time, nextTrigger string) (bool, error) {
	d := domain.DateString(day)
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_fired_date = ?,
		    trigger_utc = CASE WHEN ? = '' THEN trigger_utc ELSE ? END
		WHERE user_id = ?
		  AND (last_fired_date IS NULL OR last_fired_date < ?)`,
		d, nextTrigger, nextTrigger, userID, d,
	)
	if err != nil {
		return false, persistErr("mark fired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("mark fired", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepo) query(ctx context.Context, op, q string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var res []domain.Subscription
	for rows.Next() {
		s, err := scanSQLiteSubscription(rows)
		if err != nil {
			return nil, persistErr(op, err)
		}
		res = append(res, s)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(op, err)
	}
	return res, nil
}

// RecordLookup stores a lookup and keeps only the newest keep rows of the user.
func (r *SQLiteRepo) RecordLookup(ctx context.Context, l weather.Lookup, keep int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("record lookup", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lookups (user_id, city, created_at) VALUES (?, ?, ?)`,
		l.UserID, l.City, l.At.UTC().Unix(),
	); err != nil {
		return persistErr("record lookup", err)
	}
	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM lookups
			WHERE user_id = ?
			  AND id NOT IN (
				SELECT id FROM lookups WHERE user_id = ? ORDER BY id DESC LIMIT ?
			  )`,
			l.UserID, l.UserID, keep,
		); err != nil {
			return persistErr("prune lookups", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("record lookup", err)
	}
	return nil
}

func (r *SQLiteRepo) History(ctx context.Context, userID int64, limit int) ([]weather.Lookup, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, city, created_at
		FROM lookups
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, persistErr("history", err)
	}
	defer rows.Close()

	var out []weather.Lookup
	for rows.Next() {
		var (
			l  weather.Lookup
			at int64
		)
		if err := rows.Scan(&l.UserID, &l.City, &at); err != nil {
			return nil, persistErr("history", err)
		}
		l.At = time.Unix(at, 0).UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("history", err)
	}
	return out, nil
}

func (r *SQLiteRepo) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(enabled), 0) FROM subscriptions`,
	).Scan(&st.Subscriptions, &st.Enabled); err != nil {
		return Stats{}, persistErr("stats", err)
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lookups`).Scan(&st.Lookups); err != nil {
		return Stats{}, persistErr("stats", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT city, COUNT(*) AS n
		FROM lookups
		GROUP BY city
		ORDER BY n DESC, city ASC
		LIMIT ?`, topCitiesLimit)
	if err != nil {
		return Stats{}, persistErr("stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c CityCount
		if err := rows.Scan(&c.City, &c.Count); err != nil {
			return Stats{}, persistErr("stats", err)
		}
		st.TopCities = append(st.TopCities, c)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, persistErr("stats", err)
	}
	return st, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

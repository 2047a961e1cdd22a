package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// PostgresRepo implements Repo on PostgreSQL through a pgx pool.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, runs migrations and returns a repository.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepo, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(cctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) Close() error {
	r.pool.Close()
	return nil
}

const pgSubscriptionColumns = `user_id, city, local_time, tz_offset_at_creation, trigger_utc, enabled, last_fired_date`

func scanPGSubscription(row pgx.Row) (domain.Subscription, error) {
	var (
		s    domain.Subscription
		last *time.Time
	)
	if err := row.Scan(&s.UserID, &s.City, &s.LocalTime, &s.TimezoneOffsetMinutesAtCreation,
		&s.TriggerUTC, &s.Enabled, &last); err != nil {
		return domain.Subscription{}, err
	}
	if last != nil {
		d := domain.UTCDate(*last)
		s.LastFiredDate = &d
	}
	return s, nil
}

func (r *PostgresRepo) Get(ctx context.Context, userID int64) (domain.Subscription, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+pgSubscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
	s, err := scanPGSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, ErrNotFound
	}
	if err != nil {
		return domain.Subscription{}, persistErr("get subscription", err)
	}
	return s, nil
}

// Upsert inserts or replaces a subscription; last_fired_date keeps the later value.
func (r *PostgresRepo) Upsert(ctx context.Context, s domain.Subscription) error {
	var last *time.Time
	if s.LastFiredDate != nil {
		d := domain.UTCDate(*s.LastFiredDate)
		last = &d
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			user_id, city, local_time, tz_offset_at_creation, trigger_utc, enabled, last_fired_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			city                  = EXCLUDED.city,
			local_time            = EXCLUDED.local_time,
			tz_offset_at_creation = EXCLUDED.tz_offset_at_creation,
			trigger_utc           = EXCLUDED.trigger_utc,
			enabled               = EXCLUDED.enabled,
			last_fired_date       = GREATEST(subscriptions.last_fired_date, EXCLUDED.last_fired_date)`,
		s.UserID, s.City, s.LocalTime, s.TimezoneOffsetMinutesAtCreation, s.TriggerUTC, s.Enabled, last,
	)
	if err != nil {
		return persistErr("upsert subscription", err)
	}
	return nil
}

func (r *PostgresRepo) Delete(ctx context.Context, userID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return persistErr("delete subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]domain.Subscription, error) {
	return r.query(ctx, "list subscriptions",
		`SELECT `+pgSubscriptionColumns+` FROM subscriptions ORDER BY user_id`)
}

func (r *PostgresRepo) ListDue(ctx context.Context, triggerUTC string, today time.Time) ([]domain.Subscription, error) {
	return r.query(ctx, "list due", `
		SELECT `+pgSubscriptionColumns+`
		FROM subscriptions
		WHERE enabled
		  AND trigger_utc = $1
		  AND (last_fired_date IS NULL OR last_fired_date < $2::date)
		ORDER BY user_id`,
		triggerUTC, domain.UTCDate(today),
	)
}

func (r *PostgresRepo) MarkFired(ctx context.Context, userID int64, day time.Time, nextTrigger string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscriptions
		SET last_fired_date = $2::date,
		    trigger_utc = COALESCE(NULLIF($3, ''), trigger_utc)
		WHERE user_id = $1
		  AND (last_fired_date IS NULL OR last_fired_date < $2::date)`,
		userID, domain.UTCDate(day), nextTrigger,
	)
	if err != nil {
		return false, persistErr("mark fired", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepo) query(ctx context.Context, op, q string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, persistErr(op, err)
	}
	defer rows.Close()

	var res []domain.Subscription
	for rows.Next() {
		s, err := scanPGSubscription(rows)
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
func (r *PostgresRepo) RecordLookup(ctx context.Context, l weather.Lookup, keep int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return persistErr("record lookup", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO lookups (user_id, city, created_at) VALUES ($1, $2, $3)`,
		l.UserID, l.City, l.At.UTC(),
	); err != nil {
		return persistErr("record lookup", err)
	}
	if keep > 0 {
		if _, err := tx.Exec(ctx, `
			DELETE FROM lookups
			WHERE user_id = $1
			  AND id NOT IN (
				SELECT id FROM lookups WHERE user_id = $1 ORDER BY id DESC LIMIT $2
			  )`,
			l.UserID, keep,
		); err != nil {
			return persistErr("prune lookups", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return persistErr("record lookup", err)
	}
	return nil
}

func (r *PostgresRepo) History(ctx context.Context, userID int64, limit int) ([]weather.Lookup, error) {
	q := `SELECT user_id, city, created_at FROM lookups WHERE user_id = $1 ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, persistErr("history", err)
	}
	defer rows.Close()

	var out []weather.Lookup
	for rows.Next() {
		var l weather.Lookup
		if err := rows.Scan(&l.UserID, &l.City, &l.At); err != nil {
			return nil, persistErr("history", err)
		}
		l.At = l.At.UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("history", err)
	}
	return out, nil
}

func (r *PostgresRepo) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE enabled) FROM subscriptions`,
	).Scan(&st.Subscriptions, &st.Enabled); err != nil {
		return Stats{}, persistErr("stats", err)
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM lookups`).Scan(&st.Lookups); err != nil {
		return Stats{}, persistErr("stats", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT city, COUNT(*) AS n
		FROM lookups
		GROUP BY city
		ORDER BY n DESC, city ASC
		LIMIT $1`, topCitiesLimit)
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

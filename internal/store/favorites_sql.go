package store

import (
	"context"
	"time"
)

func (r *SQLiteRepo) AddFavorite(ctx context.Context, f Favorite) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO favorites (user_id, city, name, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, city) DO NOTHING`,
		f.UserID, f.City, f.Name, f.AddedAt.UTC().Unix(),
	)
	if err != nil {
		return false, persistErr("add favorite", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("add favorite", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepo) RemoveFavorite(ctx context.Context, userID int64, city string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM favorites WHERE user_id = ? AND city = ?`, userID, city)
	if err != nil {
		return false, persistErr("remove favorite", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("remove favorite", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepo) Favorites(ctx context.Context, userID int64) ([]Favorite, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, city, name, added_at
		FROM favorites
		WHERE user_id = ?
		ORDER BY id DESC`, userID)
	if err != nil {
		return nil, persistErr("favorites", err)
	}
	defer rows.Close()

	var out []Favorite
	for rows.Next() {
		var (
			f  Favorite
			at int64
		)
		if err := rows.Scan(&f.UserID, &f.City, &f.Name, &at); err != nil {
			return nil, persistErr("favorites", err)
		}
		f.AddedAt = time.Unix(at, 0).UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("favorites", err)
	}
	return out, nil
}

func (r *PostgresRepo) AddFavorite(ctx context.Context, f Favorite) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO favorites (user_id, city, name, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, city) DO NOTHING`,
		f.UserID, f.City, f.Name, f.AddedAt.UTC(),
	)
	if err != nil {
		return false, persistErr("add favorite", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepo) RemoveFavorite(ctx context.Context, userID int64, city string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM favorites WHERE user_id = $1 AND city = $2`, userID, city)
	if err != nil {
		return false, persistErr("remove favorite", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepo) Favorites(ctx context.Context, userID int64) ([]Favorite, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, city, name, added_at
		FROM favorites
		WHERE user_id = $1
		ORDER BY id DESC`, userID)
	if err != nil {
		return nil, persistErr("favorites", err)
	}
	defer rows.Close()

	var out []Favorite
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.UserID, &f.City, &f.Name, &f.AddedAt); err != nil {
			return nil, persistErr("favorites", err)
		}
		f.AddedAt = f.AddedAt.UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("favorites", err)
	}
	return out, nil
}

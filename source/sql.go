// Package source loads point sets from a SQL database.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"web/clustermanager/cluster"
)

const DefaultQuery = "SELECT id, latitude, longitude, title, snippet FROM points"

// Open opens a pooled handle. The driver must be registered by the caller,
// "postgres" through lib/pq in the server binary.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

// LoadPoints runs query and maps each row to a point. The first three columns
// are id, latitude and longitude; optional fourth and fifth columns are the
// title and snippet and may be NULL.
func LoadPoints(ctx context.Context, db *sql.DB, query string) ([]cluster.Point, error) {
	if strings.TrimSpace(query) == "" {
		query = DefaultQuery
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	if len(cols) < 3 || len(cols) > 5 {
		return nil, fmt.Errorf("point query must return 3 to 5 columns, got %d", len(cols))
	}

	var points []cluster.Point
	for rows.Next() {
		var (
			p       cluster.Point
			title   sql.NullString
			snippet sql.NullString
		)
		dest := []any{&p.ID, &p.Latitude, &p.Longitude, &title, &snippet}
		if err := rows.Scan(dest[:len(cols)]...); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		p.Title = title.String
		p.Snippet = snippet.String
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate points: %w", err)
	}
	return points, nil
}

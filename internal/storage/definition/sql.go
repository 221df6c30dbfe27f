package definition

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/newthinker/tradecore/internal/core"
)

const table = "strategy_definitions"

var columns = []string{"id", "type", "name", "params", "running", "created_at", "updated_at"}

// SQLStore keeps definitions in a SQL table. Queries are built with
// squirrel using ? placeholders, which DuckDB accepts.
type SQLStore struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// OpenDuckDB opens (or creates) a DuckDB database at dsn. An empty dsn
// opens an in-memory database.
func OpenDuckDB(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("open duckdb: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("connect duckdb: %w", err))
	}
	s, err := NewSQLStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore creates the definitions table on db if needed
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			id VARCHAR PRIMARY KEY,
			type VARCHAR NOT NULL,
			name VARCHAR,
			params VARCHAR,
			running BOOLEAN,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("create table: %w", err))
	}
	return s, nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a record
func (s *SQLStore) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		return core.Errorf(core.ErrInvalidInput, "record has no id")
	}
	params, err := json.Marshal(r.Params)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("encode params of %s: %w", r.ID, err))
	}
	_, err = s.sq.Insert(table).
		Options("OR REPLACE").
		Columns(columns...).
		Values(r.ID, r.Type, r.Name, string(params), r.Running, r.CreatedAt.UTC(), r.UpdatedAt.UTC()).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("save %s: %w", r.ID, err))
	}
	return nil
}

// Get retrieves a record by id
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.sq.Select(columns...).
		From(table).
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.Errorf(core.ErrNotFound, "strategy definition %q not found", id)
	}
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("get %s: %w", id, err))
	}
	return &r, nil
}

// Delete removes a record
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.sq.Delete(table).
		Where(squirrel.Eq{"id": id}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("delete %s: %w", id, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.Errorf(core.ErrNotFound, "strategy definition %q not found", id)
	}
	return nil
}

// List returns every record, oldest first
func (s *SQLStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.sq.Select(columns...).
		From(table).
		OrderBy("created_at ASC", "id ASC").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("list: %w", err))
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("scan: %w", err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	return out, nil
}

func scan(row squirrel.RowScanner) (Record, error) {
	var (
		r      Record
		name   sql.NullString
		params sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Type, &name, &params, &r.Running, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Record{}, err
	}
	r.Name = name.String
	if params.Valid && params.String != "" && params.String != "null" {
		if err := json.Unmarshal([]byte(params.String), &r.Params); err != nil {
			return Record{}, fmt.Errorf("decode params of %s: %w", r.ID, err)
		}
	}
	return r, nil
}

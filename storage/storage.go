package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"tasks-api/domain"
)

// Storage is the durable task store backed by PostgreSQL.
type Storage struct {
	db  *sql.DB
	log *log.Logger
}

// Open connects to the database at url using the pgx driver and verifies the
// connection.
func Open(ctx context.Context, url string, maxOpenConns int, logger *log.Logger) (*Storage, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, logger *log.Logger) *Storage {
	if db == nil {
		panic("storage.New: db is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{db: db, log: logger}
}

// DB exposes the underlying pool for migrations.
func (s *Storage) DB() *sql.DB { return s.db }

func (s *Storage) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Storage) Close() error { return s.db.Close() }

const taskColumns = "id, title, description, status, priority, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t           domain.Task
		description sql.NullString
		status      string
		priority    string
	)
	if err := row.Scan(&t.ID, &t.Title, &description, &status, &priority, &t.CreatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Description = description.String
	t.Status = domain.Status(status)
	t.Priority = domain.Priority(priority)
	return t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Insert stores a new pending task and returns it with its assigned id.
func (s *Storage) Insert(ctx context.Context, nt domain.NewTask) (domain.Task, error) {
	priority := nt.Priority
	if priority == "" {
		priority = domain.PriorityLow
	}
	var created domain.Task
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO tasks (title, description, status, priority)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+taskColumns,
			nt.Title, nullable(nt.Description), string(domain.StatusPending), string(priority),
		)
		var err error
		created, err = scanTask(row)
		return err
	})
	if err != nil {
		return domain.Task{}, mapError("insert", err)
	}
	return created, nil
}

// GetByID returns the task with the given id or domain.ErrNotFound.
func (s *Storage) GetByID(ctx context.Context, id int64) (domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return domain.Task{}, mapError("get", err)
	}
	return t, nil
}

// List returns tasks matching f in id order. A non-positive limit returns
// every match from offset onwards.
func (s *Storage) List(ctx context.Context, f domain.Filter, offset, limit int) ([]domain.Task, error) {
	query, args, err := buildListQuery(f.Normalize(), offset, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, mapError("list", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list", err)
	}
	return tasks, nil
}

func buildListQuery(f domain.Filter, offset, limit int) (string, []any, error) {
	if offset < 0 {
		return "", nil, fmt.Errorf("%w: negative offset %d", domain.ErrInvalidArgument, offset)
	}
	var (
		b     strings.Builder
		args  []any
		where []string
	)
	b.WriteString(`SELECT ` + taskColumns + ` FROM tasks`)
	if len(f.Statuses) > 0 {
		vals := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			vals[i] = string(st)
		}
		args = append(args, vals)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(f.Priorities) > 0 {
		vals := make([]string, len(f.Priorities))
		for i, p := range f.Priorities {
			vals[i] = string(p)
		}
		args = append(args, vals)
		where = append(where, fmt.Sprintf("priority = ANY($%d)", len(args)))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id ASC")
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args, nil
}

// Update replaces the mutable fields of task id and returns the new row.
func (s *Storage) Update(ctx context.Context, id int64, upd domain.TaskUpdate) (domain.Task, error) {
	var updated domain.Task
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`UPDATE tasks
			 SET title = $1, description = $2, status = $3, priority = $4
			 WHERE id = $5
			 RETURNING `+taskColumns,
			upd.Title, nullable(upd.Description), string(upd.Status), string(upd.Priority), id,
		)
		var err error
		updated, err = scanTask(row)
		return err
	})
	if err != nil {
		return domain.Task{}, mapError("update", err)
	}
	return updated, nil
}

// Delete removes task id or returns domain.ErrNotFound.
func (s *Storage) Delete(ctx context.Context, id int64) error {
	err := s.runInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	return mapError("delete", err)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"approval/api/internal/util"
)

// insertChunk keeps bulk inserts under the Postgres bind parameter limit.
const insertChunk = 1000

const requestColumns = `id, status, submitted_by, submitted_at, source_id, source_path,
	destination_id, destination_path, note, project_code, review_notes, completed_by, completed_at`

const entityColumnList = `id, request_id, entity_id, entity_type, review_status, reviewed_by,
	reviewed_at, parent_id, copy_status, name, uploaded_by, uploaded_at, dcm_id, file_size`

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateRequest stores the request and its entity snapshot in one
// transaction and returns the request with its generated id and timestamp.
func (s *PostgresStore) CreateRequest(ctx context.Context, req Request, entities []Entity) (Request, error) {
	req.ID = util.NewID("")
	req.Status = RequestPending
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO approval_request (id, status, submitted_by, submitted_at, source_id, source_path,
				destination_id, destination_path, note, project_code)
			VALUES (:id, :status, :submitted_by, :submitted_at, :source_id, :source_path,
				:destination_id, :destination_path, :note, :project_code)
		`, req)
		if err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		return insertEntities(ctx, tx, req.ID, entities)
	})
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

// InsertEntities bulk-inserts snapshot rows for an existing request.
func (s *PostgresStore) InsertEntities(ctx context.Context, requestID string, entities []Entity) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return insertEntities(ctx, tx, requestID, entities)
	})
}

func insertEntities(ctx context.Context, tx *sqlx.Tx, requestID string, entities []Entity) error {
	rows := make([]Entity, len(entities))
	now := time.Now().UTC()
	for i, e := range entities {
		e.ID = util.NewID("")
		e.RequestID = requestID
		if e.UploadedAt.IsZero() {
			e.UploadedAt = now
		}
		rows[i] = e
	}

	for start := 0; start < len(rows); start += insertChunk {
		end := min(start+insertChunk, len(rows))
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO approval_entity (`+entityColumnList+`)
			VALUES (:id, :request_id, :entity_id, :entity_type, :review_status, :reviewed_by,
				:reviewed_at, :parent_id, :copy_status, :name, :uploaded_by, :uploaded_at, :dcm_id, :file_size)
		`, rows[start:end])
		if err != nil {
			return fmt.Errorf("insert entities: %w", err)
		}
	}
	return nil
}

// ListRequests returns one page of requests, newest first, and the total
// number of matching requests.
func (s *PostgresStore) ListRequests(ctx context.Context, f RequestFilter) ([]Request, int, error) {
	clauses := []string{"project_code = $1"}
	args := []any{f.ProjectCode}
	if f.Status != "" {
		args = append(args, f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.SubmittedBy != "" {
		args = append(args, f.SubmittedBy)
		clauses = append(clauses, fmt.Sprintf("submitted_by = $%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM approval_request WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	limit, offset := pageBounds(f.Page, f.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM approval_request WHERE %s
		ORDER BY submitted_at DESC, id LIMIT $%d OFFSET $%d`, requestColumns, where, len(args)+1, len(args)+2)
	requests := []Request{}
	if err := s.db.SelectContext(ctx, &requests, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return requests, total, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (Request, error) {
	var req Request
	err := s.db.GetContext(ctx, &req, `SELECT `+requestColumns+` FROM approval_request WHERE id = $1`, requestID)
	if err != nil {
		return Request{}, notFound(err)
	}
	return req, nil
}

// CompleteRequest marks the request complete. Calling it again overwrites the
// completion fields.
func (s *PostgresStore) CompleteRequest(ctx context.Context, requestID, reviewNotes, completedBy string) (Request, error) {
	var req Request
	err := s.db.GetContext(ctx, &req, `
		UPDATE approval_request
		SET status = $2, review_notes = $3, completed_by = $4, completed_at = $5
		WHERE id = $1
		RETURNING `+requestColumns,
		requestID, RequestComplete, reviewNotes, completedBy, time.Now().UTC())
	if err != nil {
		return Request{}, notFound(err)
	}
	return req, nil
}

// DeleteRequest removes the entities and then the request in one transaction.
func (s *PostgresStore) DeleteRequest(ctx context.Context, requestID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM approval_entity WHERE request_id = $1`, requestID); err != nil {
			return notFound(fmt.Errorf("delete entities: %w", err))
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM approval_request WHERE id = $1`, requestID)
		if err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// ListEntities returns one page of a request's entities and the total match count.
func (s *PostgresStore) ListEntities(ctx context.Context, f EntityFilter) ([]Entity, int, error) {
	where, args, err := entityWhere(f)
	if err != nil {
		return nil, 0, err
	}
	order, err := entityOrder(f)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM approval_entity WHERE `+where, args...); err != nil {
		return nil, 0, notFound(fmt.Errorf("count entities: %w", err))
	}

	limit, offset := pageBounds(f.Page, f.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM approval_entity WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		entityColumnList, where, order, len(args)+1, len(args)+2)
	entities := []Entity{}
	if err := s.db.SelectContext(ctx, &entities, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("list entities: %w", err)
	}
	return entities, total, nil
}

// EntityRouting returns the ancestor chain of entityID within the request,
// starting with the entity itself and ending at its root.
func (s *PostgresStore) EntityRouting(ctx context.Context, requestID, entityID string) ([]Entity, error) {
	routing := []Entity{}
	seen := map[string]struct{}{}
	next := entityID
	for next != "" {
		if _, ok := seen[next]; ok {
			break
		}
		seen[next] = struct{}{}

		var e Entity
		err := s.db.GetContext(ctx, &e, `SELECT `+entityColumnList+` FROM approval_entity
			WHERE request_id = $1 AND entity_id = $2`, requestID, next)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, notFound(fmt.Errorf("load routing: %w", err))
		}
		routing = append(routing, e)
		next = ""
		if e.ParentID != nil {
			next = *e.ParentID
		}
	}
	return routing, nil
}

func (s *PostgresStore) PendingFileIDs(ctx context.Context, requestID string) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids, `
		SELECT entity_id FROM approval_entity
		WHERE request_id = $1 AND entity_type = $2 AND review_status = $3
		ORDER BY entity_id
	`, requestID, EntityFile, ReviewPending)
	if err != nil {
		return nil, notFound(fmt.Errorf("list pending files: %w", err))
	}
	return ids, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// notFound maps a malformed request id onto sql.ErrNoRows so callers report
// it the same way as a missing row.
func notFound(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
		return sql.ErrNoRows
	}
	return err
}

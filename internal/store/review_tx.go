package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"approval/api/internal/review"
)

// updateChunk bounds the IN list of one status update.
const updateChunk = 1000

// InReviewTx locks the request row and runs fn against its snapshot. Reviews
// of the same request are serialized by the lock.
func (s *PostgresStore) InReviewTx(ctx context.Context, requestID string, fn func(review.Tx) error) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id, `SELECT id FROM approval_request WHERE id = $1 FOR UPDATE`, requestID); err != nil {
			return notFound(err)
		}
		return fn(&reviewTx{tx: tx, requestID: requestID})
	})
}

type reviewTx struct {
	tx        *sqlx.Tx
	requestID string
}

type nodeRow struct {
	EntityID     string `db:"entity_id"`
	ParentID     string `db:"parent_id"`
	EntityType   string `db:"entity_type"`
	ReviewStatus string `db:"review_status"`
}

func (t *reviewTx) Nodes(ctx context.Context) ([]review.Node, error) {
	var rows []nodeRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT entity_id, COALESCE(parent_id, '') AS parent_id, entity_type,
			COALESCE(review_status, '') AS review_status
		FROM approval_entity
		WHERE request_id = $1
		ORDER BY uploaded_at, name, entity_id
	`, t.requestID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	nodes := make([]review.Node, 0, len(rows))
	for _, r := range rows {
		nodes = append(nodes, review.Node{
			ID:       r.EntityID,
			ParentID: r.ParentID,
			Type:     r.EntityType,
			Status:   r.ReviewStatus,
		})
	}
	return nodes, nil
}

// SetStatus only touches pending files, so resolved files stay terminal.
func (t *reviewTx) SetStatus(ctx context.Context, fileIDs []string, status, reviewer string, at time.Time) (int64, error) {
	var updated int64
	for start := 0; start < len(fileIDs); start += updateChunk {
		end := min(start+updateChunk, len(fileIDs))
		query, args, err := sqlx.In(`
			UPDATE approval_entity
			SET review_status = ?, reviewed_by = ?, reviewed_at = ?
			WHERE request_id = ? AND entity_type = ? AND review_status = ? AND entity_id IN (?)
		`, status, reviewer, at, t.requestID, EntityFile, ReviewPending, fileIDs[start:end])
		if err != nil {
			return 0, fmt.Errorf("build status update: %w", err)
		}
		res, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
		if err != nil {
			return 0, fmt.Errorf("update review status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("update review status: %w", err)
		}
		updated += n
	}
	return updated, nil
}

package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"approval/api/internal/logging"
	"approval/api/internal/metrics"
	"approval/api/internal/pipeline"
)

var ErrInvalidStatus = errors.New("review status must be approved or denied")

// Tx is the view of one request's snapshot inside a review transaction.
type Tx interface {
	Nodes(ctx context.Context) ([]Node, error)
	// SetStatus moves pending files to status and reports how many rows
	// actually changed. Files that are not pending are left untouched.
	SetStatus(ctx context.Context, fileIDs []string, status, reviewer string, at time.Time) (int64, error)
}

// Store runs fn in a transaction scoped to one request. fn returning an error
// rolls the transaction back.
type Store interface {
	InReviewTx(ctx context.Context, requestID string, fn func(Tx) error) error
}

type Dispatcher interface {
	TriggerCopy(ctx context.Context, in pipeline.CopyRequest, auth pipeline.Auth) (json.RawMessage, error)
}

// Target identifies the request a review action applies to.
type Target struct {
	RequestID     string
	ProjectCode   string
	SourceID      string
	DestinationID string
}

type Action struct {
	Target    Target
	Status    string
	All       bool
	EntityIDs []string
	Reviewer  string
	SessionID string
	Auth      pipeline.Auth
}

// Result reports how many resolved files were already approved or denied
// before the action, and how many rows the action changed.
type Result struct {
	Approved int   `json:"approved"`
	Denied   int   `json:"denied"`
	Updated  int64 `json:"updated"`
}

// DispatchError wraps a copy trigger failure that happened after the review
// was committed.
type DispatchError struct {
	Result Result
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("trigger copy: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

type Engine struct {
	store      Store
	dispatcher Dispatcher
	now        func() time.Time
}

func NewEngine(store Store, dispatcher Dispatcher) *Engine {
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the review timestamp source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Apply records a review decision. The snapshot read and status update share
// one transaction; the copy trigger for approvals runs only after commit. An
// empty selection is a no-op.
func (e *Engine) Apply(ctx context.Context, action Action) (Result, error) {
	if action.Status != StatusApproved && action.Status != StatusDenied {
		return Result{}, ErrInvalidStatus
	}

	var (
		result   Result
		topLevel []string
	)
	at := e.now()
	err := e.store.InReviewTx(ctx, action.Target.RequestID, func(tx Tx) error {
		nodes, err := tx.Nodes(ctx)
		if err != nil {
			return err
		}
		tree := NewTree(nodes)

		var pending []string
		if action.All {
			pending = tree.FilesWithStatus(StatusPending)
			result.Approved = len(tree.FilesWithStatus(StatusApproved))
			result.Denied = len(tree.FilesWithStatus(StatusDenied))
			topLevel = tree.Roots()
		} else {
			files := tree.Files(action.EntityIDs)
			pending = tree.Filter(files, StatusPending)
			result.Approved = tree.Count(files, StatusApproved)
			result.Denied = tree.Count(files, StatusDenied)
			topLevel = selectedInSnapshot(tree, action.EntityIDs)
		}

		if len(pending) == 0 {
			return nil
		}
		updated, err := tx.SetStatus(ctx, pending, action.Status, action.Reviewer, at)
		if err != nil {
			return err
		}
		result.Updated = updated
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.RecordReviewed(action.Status, result.Updated)
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("copy_request_id", action.Target.RequestID).
		Str("review_status", action.Status).
		Bool("all", action.All).
		Int64("updated", result.Updated).
		Int("skipped_approved", result.Approved).
		Int("skipped_denied", result.Denied).
		Msg("review applied")

	if action.Status != StatusApproved || len(topLevel) == 0 || e.dispatcher == nil {
		return result, nil
	}
	_, err = e.dispatcher.TriggerCopy(ctx, pipeline.CopyRequest{
		RequestID:     action.Target.RequestID,
		ProjectCode:   action.Target.ProjectCode,
		SourceID:      action.Target.SourceID,
		DestinationID: action.Target.DestinationID,
		TargetIDs:     topLevel,
		Operator:      action.Reviewer,
		SessionID:     action.SessionID,
	}, action.Auth)
	if err != nil {
		logger.Error().Err(err).Str("copy_request_id", action.Target.RequestID).Msg("copy trigger failed")
		return result, &DispatchError{Result: result, Err: err}
	}
	return result, nil
}

// selectedInSnapshot keeps the directly selected ids that belong to the
// request, deduplicated in selection order.
func selectedInSnapshot(tree *Tree, ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var out []string
	for _, id := range ids {
		if _, ok := seen[id]; ok || !tree.Has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"approval/api/internal/config"
	"approval/api/internal/logging"
	"approval/api/internal/metadata"
	"approval/api/internal/metrics"
	"approval/api/internal/pipeline"
	"approval/api/internal/review"
	"approval/api/internal/snapshot"
	"approval/api/internal/store"
	"approval/api/internal/util"
)

type CreateRequestInput struct {
	EntityIDs     []string `json:"entity_ids"`
	SourceID      string   `json:"source_id"`
	DestinationID string   `json:"destination_id"`
	Note          string   `json:"note"`
	SubmittedBy   string   `json:"submitted_by"`
}

type ListRequestsInput struct {
	Status      string
	SubmittedBy string
	Page        int
	PageSize    int
}

type CompleteRequestInput struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	ReviewNotes string `json:"review_notes"`
	Username    string `json:"username"`
}

// ReviewInput is a review action. EntityIDs is ignored when reviewing all
// pending files.
type ReviewInput struct {
	RequestID    string   `json:"request_id"`
	ReviewStatus string   `json:"review_status"`
	EntityIDs    []string `json:"entity_ids"`
	Username     string   `json:"username"`
	SessionID    string   `json:"session_id"`
}

type ListFilesInput struct {
	RequestID string
	ParentID  string
	Query     map[string]string
	Partial   []string
	OrderBy   string
	OrderType string
	Page      int
	PageSize  int
}

type FilesPage struct {
	Data    []store.Entity
	Routing []store.Entity
	Total   int
}

// CompletionResult is the completion state reported to the caller, both on
// success and when pending files block completion.
type CompletionResult struct {
	Status          string   `json:"status"`
	PendingEntities []string `json:"pending_entities"`
	PendingCount    int      `json:"pending_count"`
}

var allowedRequestStatus = map[string]struct{}{
	store.RequestPending:  {},
	store.RequestComplete: {},
}

type dataStore interface {
	Ping(context.Context) error
	CreateRequest(context.Context, store.Request, []store.Entity) (store.Request, error)
	ListRequests(context.Context, store.RequestFilter) ([]store.Request, int, error)
	GetRequest(context.Context, string) (store.Request, error)
	CompleteRequest(context.Context, string, string, string) (store.Request, error)
	DeleteRequest(context.Context, string) error
	ListEntities(context.Context, store.EntityFilter) ([]store.Entity, int, error)
	EntityRouting(context.Context, string, string) ([]store.Entity, error)
	PendingFileIDs(context.Context, string) ([]string, error)
	InReviewTx(context.Context, string, func(review.Tx) error) error
}

type itemLookup interface {
	GetItem(context.Context, string) (metadata.Item, error)
	BatchGet(context.Context, []string) ([]metadata.Item, error)
	Search(context.Context, metadata.SearchQuery) ([]metadata.Item, error)
}

type requestNotifier interface {
	RequestCreated(context.Context, store.Request) error
	RequestCompleted(context.Context, store.Request) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	items     itemLookup
	snapshots *snapshot.Builder
	reviews   *review.Engine
	gate      *review.Gate
	notifier  requestNotifier
}

func NewService(cfg config.Config, st dataStore, items itemLookup, dispatcher review.Dispatcher, notifier requestNotifier) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 25
	}
	return &Service{
		cfg:       cfg,
		store:     st,
		items:     items,
		snapshots: snapshot.NewBuilder(items),
		reviews:   review.NewEngine(st, dispatcher),
		gate:      review.NewGate(st, items),
		notifier:  notifier,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateRequest resolves source and destination, snapshots the selected
// entities and stores everything at once. Admin notification failures are
// logged and do not fail the request.
func (s *Service) CreateRequest(ctx context.Context, projectCode string, in CreateRequestInput) (store.Request, error) {
	if strings.TrimSpace(in.Note) == "" {
		return store.Request{}, badRequest("Note is required")
	}
	if len(in.EntityIDs) == 0 {
		return store.Request{}, badRequest("entity_ids is required")
	}
	if in.SourceID == "" || in.DestinationID == "" {
		return store.Request{}, badRequest("source_id and destination_id are required")
	}
	if strings.TrimSpace(in.SubmittedBy) == "" {
		return store.Request{}, badRequest("submitted_by is required")
	}

	destination, err := s.items.GetItem(ctx, in.DestinationID)
	if err != nil {
		return store.Request{}, fmt.Errorf("resolve destination: %w", err)
	}
	source, err := s.items.GetItem(ctx, in.SourceID)
	if err != nil {
		return store.Request{}, fmt.Errorf("resolve source: %w", err)
	}

	entries, err := s.snapshots.Build(ctx, in.EntityIDs)
	if err != nil {
		return store.Request{}, err
	}

	created, err := s.store.CreateRequest(ctx, store.Request{
		SubmittedBy:     in.SubmittedBy,
		SourceID:        in.SourceID,
		SourcePath:      source.Path(),
		DestinationID:   in.DestinationID,
		DestinationPath: destination.Path(),
		Note:            in.Note,
		ProjectCode:     projectCode,
	}, snapshot.Entities(entries))
	if err != nil {
		return store.Request{}, err
	}

	logger := logging.FromContext(ctx)
	logger.Info().Str("copy_request_id", created.ID).Int("entities", len(entries)).Msg("copy request created")
	if s.notifier != nil {
		if err := s.notifier.RequestCreated(ctx, created); err != nil {
			logger.Warn().Err(err).Str("copy_request_id", created.ID).Msg("notify project admins failed")
		}
	}
	return created, nil
}

func (s *Service) ListRequests(ctx context.Context, projectCode string, in ListRequestsInput) ([]store.Request, int, error) {
	if _, ok := allowedRequestStatus[in.Status]; !ok {
		return nil, 0, badRequest("status must be pending or complete")
	}
	return s.store.ListRequests(ctx, store.RequestFilter{
		ProjectCode: projectCode,
		Status:      in.Status,
		SubmittedBy: in.SubmittedBy,
		Page:        in.Page,
		PageSize:    in.PageSize,
	})
}

// CompleteRequest marks a request complete once no live file is pending.
// Blocked completions return a 400 DomainError carrying the blocking files.
func (s *Service) CompleteRequest(ctx context.Context, projectCode string, in CompleteRequestInput) (CompletionResult, error) {
	if in.Status != store.RequestComplete {
		return CompletionResult{}, badRequest("invalid review status")
	}
	req, err := s.requestInProject(ctx, projectCode, in.RequestID)
	if err != nil {
		return CompletionResult{}, err
	}

	blockers, err := s.gate.Check(ctx, req.ID)
	if err != nil {
		return CompletionResult{}, err
	}
	if !blockers.Empty() {
		metrics.RecordCompletionBlocked()
		logging.FromContext(ctx).Info().Str("copy_request_id", req.ID).Int("pending", blockers.PendingCount).Msg(blockers.Message())
		blocked := domainError(http.StatusBadRequest, "PENDING_FILES", blockers.Message(), nil)
		blocked.Result = CompletionResult{
			Status:          store.RequestPending,
			PendingEntities: blockers.PendingEntities,
			PendingCount:    blockers.PendingCount,
		}
		return CompletionResult{}, blocked
	}

	completed, err := s.store.CompleteRequest(ctx, req.ID, in.ReviewNotes, in.Username)
	if err != nil {
		return CompletionResult{}, err
	}
	if s.notifier != nil {
		if err := s.notifier.RequestCompleted(ctx, completed); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("copy_request_id", req.ID).Msg("notify submitter failed")
		}
	}
	return CompletionResult{Status: store.RequestComplete, PendingEntities: []string{}}, nil
}

// ReviewAll applies the decision to every pending file of the request.
func (s *Service) ReviewAll(ctx context.Context, projectCode string, in ReviewInput, auth pipeline.Auth) (review.Result, error) {
	return s.review(ctx, projectCode, in, true, auth)
}

// ReviewSelected applies the decision to the selected files and every file
// below the selected folders.
func (s *Service) ReviewSelected(ctx context.Context, projectCode string, in ReviewInput, auth pipeline.Auth) (review.Result, error) {
	return s.review(ctx, projectCode, in, false, auth)
}

func (s *Service) review(ctx context.Context, projectCode string, in ReviewInput, all bool, auth pipeline.Auth) (review.Result, error) {
	if in.ReviewStatus != review.StatusApproved && in.ReviewStatus != review.StatusDenied {
		return review.Result{}, badRequest("invalid review status")
	}
	req, err := s.requestInProject(ctx, projectCode, in.RequestID)
	if err != nil {
		return review.Result{}, err
	}
	return s.reviews.Apply(ctx, review.Action{
		Target: review.Target{
			RequestID:     req.ID,
			ProjectCode:   req.ProjectCode,
			SourceID:      req.SourceID,
			DestinationID: req.DestinationID,
		},
		Status:    in.ReviewStatus,
		All:       all,
		EntityIDs: in.EntityIDs,
		Reviewer:  in.Username,
		SessionID: in.SessionID,
		Auth:      auth,
	})
}

func (s *Service) PendingFiles(ctx context.Context, projectCode, requestID string) (review.Blockers, error) {
	req, err := s.requestInProject(ctx, projectCode, requestID)
	if err != nil {
		return review.Blockers{}, err
	}
	return s.gate.Check(ctx, req.ID)
}

// ListFiles pages through one level of a request's snapshot. Routing is the
// chain from ParentID up to its root.
func (s *Service) ListFiles(ctx context.Context, projectCode string, in ListFilesInput) (FilesPage, error) {
	orderDesc := false
	switch in.OrderType {
	case "", "asc":
	case "desc":
		orderDesc = true
	default:
		return FilesPage{}, badRequest("order_type must be asc or desc")
	}
	req, err := s.requestInProject(ctx, projectCode, in.RequestID)
	if err != nil {
		return FilesPage{}, err
	}

	data, total, err := s.store.ListEntities(ctx, store.EntityFilter{
		RequestID: req.ID,
		ParentID:  in.ParentID,
		Query:     in.Query,
		Partial:   in.Partial,
		OrderBy:   in.OrderBy,
		OrderDesc: orderDesc,
		Page:      in.Page,
		PageSize:  in.PageSize,
	})
	if err != nil {
		return FilesPage{}, err
	}

	routing := []store.Entity{}
	if in.ParentID != "" {
		if routing, err = s.store.EntityRouting(ctx, req.ID, in.ParentID); err != nil {
			return FilesPage{}, err
		}
	}
	return FilesPage{Data: data, Routing: routing, Total: total}, nil
}

func (s *Service) DeleteRequest(ctx context.Context, projectCode, requestID string) error {
	req, err := s.requestInProject(ctx, projectCode, requestID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRequest(ctx, req.ID); err != nil {
		return err
	}
	logging.FromContext(ctx).Info().Str("copy_request_id", req.ID).Msg("copy request deleted")
	return nil
}

// requestInProject loads a request and hides requests of other projects.
func (s *Service) requestInProject(ctx context.Context, projectCode, requestID string) (store.Request, error) {
	if !util.IsUUID(requestID) {
		return store.Request{}, badRequest("request_id must be a UUID")
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return store.Request{}, err
	}
	if req.ProjectCode != projectCode {
		return store.Request{}, notFound("copy request not found")
	}
	return req, nil
}

func (s *Service) DefaultPageSize() int {
	return s.cfg.DefaultPageSize
}

// isBlocked reports whether err is a completion refused by pending files.
func isBlocked(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Code == "PENDING_FILES"
}

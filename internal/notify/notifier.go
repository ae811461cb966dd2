// Package notify emails project admins about new copy requests and
// submitters about completed ones.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"approval/api/internal/authsvc"
	"approval/api/internal/email"
	"approval/api/internal/graph"
	"approval/api/internal/metrics"
	"approval/api/internal/store"
)

const timestampLayout = "2006-01-02 15:04:05"

type Users interface {
	GetUser(ctx context.Context, username string) (authsvc.User, error)
	ProjectAdmins(ctx context.Context, projectCode string) ([]authsvc.User, error)
}

type Projects interface {
	ProjectByCode(ctx context.Context, code string) (graph.Project, error)
}

type Mailer interface {
	SendNewRequest(ctx context.Context, to string, data email.NewRequestData) error
	SendRequestCompleted(ctx context.Context, to string, data email.CompletedData) error
}

type Notifier struct {
	users    Users
	projects Projects
	mailer   Mailer
}

func New(users Users, projects Projects, mailer Mailer) *Notifier {
	return &Notifier{users: users, projects: projects, mailer: mailer}
}

// RequestCreated emails every active admin of the request's project. A failed
// send does not stop the others; all failures are returned joined.
func (n *Notifier) RequestCreated(ctx context.Context, req store.Request) error {
	err := n.requestCreated(ctx, req)
	metrics.RecordNotification("new_request", err)
	return err
}

func (n *Notifier) requestCreated(ctx context.Context, req store.Request) error {
	submitter, err := n.users.GetUser(ctx, req.SubmittedBy)
	if err != nil {
		return fmt.Errorf("lookup submitter: %w", err)
	}
	project, err := n.projects.ProjectByCode(ctx, req.ProjectCode)
	if err != nil {
		return fmt.Errorf("lookup project: %w", err)
	}
	admins, err := n.users.ProjectAdmins(ctx, req.ProjectCode)
	if err != nil {
		return fmt.Errorf("lookup project admins: %w", err)
	}

	var errs []error
	for _, admin := range admins {
		if admin.Email == "" {
			continue
		}
		err := n.mailer.SendNewRequest(ctx, admin.Email, email.NewRequestData{
			AdminFirstName:   admin.DisplayFirstName(),
			UserFirstName:    submitter.DisplayFirstName(),
			UserLastName:     submitter.LastName,
			ProjectName:      project.Name,
			RequestTimestamp: formatTime(req.SubmittedAt),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", admin.Username, err))
		}
	}
	return errors.Join(errs...)
}

// RequestCompleted emails the submitter that an admin completed the request.
func (n *Notifier) RequestCompleted(ctx context.Context, req store.Request) error {
	err := n.requestCompleted(ctx, req)
	metrics.RecordNotification("complete_request", err)
	return err
}

func (n *Notifier) requestCompleted(ctx context.Context, req store.Request) error {
	submitter, err := n.users.GetUser(ctx, req.SubmittedBy)
	if err != nil {
		return fmt.Errorf("lookup submitter: %w", err)
	}
	var admin authsvc.User
	if req.CompletedBy != nil {
		if admin, err = n.users.GetUser(ctx, *req.CompletedBy); err != nil {
			return fmt.Errorf("lookup completing admin: %w", err)
		}
	}
	project, err := n.projects.ProjectByCode(ctx, req.ProjectCode)
	if err != nil {
		return fmt.Errorf("lookup project: %w", err)
	}

	completedAt := time.Now().UTC()
	if req.CompletedAt != nil {
		completedAt = *req.CompletedAt
	}
	return n.mailer.SendRequestCompleted(ctx, submitter.Email, email.CompletedData{
		UserFirstName:     submitter.DisplayFirstName(),
		AdminFirstName:    admin.DisplayFirstName(),
		AdminLastName:     admin.LastName,
		ProjectName:       project.Name,
		RequestTimestamp:  formatTime(req.SubmittedAt),
		CompleteTimestamp: formatTime(completedAt),
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

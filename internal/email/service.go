// Package email sends templated notifications through the platform email
// service. Templates are rendered by that service.
package email

import (
	"context"
	"errors"
	"net/http"
	"time"

	"approval/api/internal/upstream"
)

const (
	newRequestTemplate      = "copy_request/new_request.html"
	completeRequestTemplate = "copy_request/complete_request.html"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	ServiceURL string
	Sender     string
	Timeout    time.Duration
}

// Service posts email jobs to the email service.
type Service struct {
	config Config
	http   *upstream.Client
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		http:   upstream.NewClient("email", config.ServiceURL, config.Timeout),
	}
}

func NewServiceWithHTTP(config Config, httpClient *http.Client) *Service {
	return &Service{
		config: config,
		http:   upstream.NewClientWithHTTP("email", config.ServiceURL, httpClient),
	}
}

// IsConfigured returns true if a service URL and sender are set.
func (s *Service) IsConfigured() bool {
	return s.config.ServiceURL != "" && s.config.Sender != ""
}

type message struct {
	Subject        string         `json:"subject"`
	Sender         string         `json:"sender"`
	Receiver       []string       `json:"receiver"`
	MsgType        string         `json:"msg_type"`
	Template       string         `json:"template"`
	TemplateKwargs map[string]any `json:"template_kwargs"`
}

// SendTemplate asks the email service to render template with kwargs and
// deliver it to every receiver.
func (s *Service) SendTemplate(ctx context.Context, to []string, subject, template string, kwargs map[string]any) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	req, err := s.http.NewRequest(ctx, http.MethodPost, "", nil, message{
		Subject:        subject,
		Sender:         s.config.Sender,
		Receiver:       to,
		MsgType:        "html",
		Template:       template,
		TemplateKwargs: kwargs,
	})
	if err != nil {
		return err
	}
	return s.http.Do(req, nil)
}

// NewRequestData fills the new copy request template for one admin.
type NewRequestData struct {
	AdminFirstName   string
	UserFirstName    string
	UserLastName     string
	ProjectName      string
	RequestTimestamp string
}

// CompletedData fills the completed copy request template for the submitter.
type CompletedData struct {
	UserFirstName     string
	AdminFirstName    string
	AdminLastName     string
	ProjectName       string
	RequestTimestamp  string
	CompleteTimestamp string
}

func (s *Service) SendNewRequest(ctx context.Context, to string, data NewRequestData) error {
	return s.SendTemplate(ctx, []string{to}, "A new request to copy data to Core needs your approval", newRequestTemplate, map[string]any{
		"admin_first_name":  data.AdminFirstName,
		"user_first_name":   data.UserFirstName,
		"user_last_name":    data.UserLastName,
		"project_name":      data.ProjectName,
		"request_timestamp": data.RequestTimestamp,
	})
}

func (s *Service) SendRequestCompleted(ctx context.Context, to string, data CompletedData) error {
	return s.SendTemplate(ctx, []string{to}, "Your request to copy data to Core is Completed", completeRequestTemplate, map[string]any{
		"user_first_name":    data.UserFirstName,
		"admin_first_name":   data.AdminFirstName,
		"admin_last_name":    data.AdminLastName,
		"project_name":       data.ProjectName,
		"request_timestamp":  data.RequestTimestamp,
		"complete_timestamp": data.CompleteTimestamp,
	})
}

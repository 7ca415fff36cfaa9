// pkg/email/email.go
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const resendEndpoint = "https://api.resend.com/emails"

type EmailService struct {
	apiKey    string
	from      string
	endpoint  string
	client    *http.Client
	templates *template.Template
	log       zerolog.Logger
}

type EmailData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Html    string `json:"html"`
}

// Template data structures
type WelcomeEmailData struct {
	Name string
}

type SubscriptionEmailData struct {
	Name            string
	PlanName        string
	RecipesPerMonth int
	AudioPerMonth   int
	RenewsAt        *time.Time
	IsRenewal       bool
}

type SubscriptionCancelledData struct {
	Name      string
	PlanName  string
	ExpiresAt *time.Time
}

type SubscriptionExpiryWarningData struct {
	Name       string
	PlanName   string
	DaysLeft   int
	ExpiryDate time.Time
}

func NewEmailService(apiKey, from string, timeout time.Duration, log zerolog.Logger) (*EmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	if from == "" {
		from = "Nourish <noreply@nourish.app>"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %w", err)
	}

	return &EmailService{
		apiKey:    apiKey,
		from:      from,
		endpoint:  resendEndpoint,
		client:    &http.Client{Timeout: timeout},
		templates: templates,
		log:       log.With().Str("component", "email").Logger(),
	}, nil
}

// WithEndpoint points the service at a different Resend-compatible URL.
func (s *EmailService) WithEndpoint(url string) *EmailService {
	s.endpoint = url
	return s
}

func (s *EmailService) sendTemplateEmail(ctx context.Context, to, subject, templateName string, data interface{}) error {
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("template execution error: %w", err)
	}

	jsonData, err := json.Marshal(EmailData{
		From:    s.from,
		To:      to,
		Subject: subject,
		Html:    body.String(),
	})
	if err != nil {
		return fmt.Errorf("error marshaling email data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		s.log.Warn().Int("status", resp.StatusCode).Str("template", templateName).Msg("resend rejected email")
		return fmt.Errorf("resend API error: %s", string(respBody))
	}

	s.log.Debug().Str("to", to).Str("template", templateName).Msg("email sent")
	return nil
}

// Email sending methods
func (s *EmailService) SendWelcomeEmail(ctx context.Context, to, name string) error {
	return s.sendTemplateEmail(ctx, to, "Welcome to Nourish!", "welcome.html", WelcomeEmailData{Name: name})
}

func (s *EmailService) SendSubscriptionStartedEmail(ctx context.Context, to string, data SubscriptionEmailData) error {
	subject := fmt.Sprintf("Welcome to Nourish %s!", data.PlanName)
	if data.IsRenewal {
		subject = "Your Nourish subscription has been renewed"
	}
	return s.sendTemplateEmail(ctx, to, subject, "subscription_started.html", data)
}

func (s *EmailService) SendSubscriptionCancelledEmail(ctx context.Context, to string, data SubscriptionCancelledData) error {
	return s.sendTemplateEmail(ctx, to, "Your subscription has been cancelled", "subscription_cancelled.html", data)
}

func (s *EmailService) SendSubscriptionExpiryWarning(ctx context.Context, to string, data SubscriptionExpiryWarningData) error {
	return s.sendTemplateEmail(
		ctx,
		to,
		fmt.Sprintf("Your subscription ends in %d days", data.DaysLeft),
		"subscription_expiry_warning.html",
		data,
	)
}

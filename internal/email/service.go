// Package email sends reviewer notifications over SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// IsConfigured reports whether sending can be attempted at all. Callers skip
// notifications entirely when it returns false.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))
	return s.send(s.server, s.auth, s.config.From, to, msg)
}

// NotifyReviewRequested tells the reviewers of a newly current step that a
// proposal is waiting on them. approveLabel/declineLabel carry any workflow
// overrides of the button wording.
func (s *Service) NotifyReviewRequested(to []string, proposalTitle, stepTitle, approveLabel, declineLabel string) error {
	if approveLabel == "" {
		approveLabel = "Pass"
	}
	if declineLabel == "" {
		declineLabel = "Decline"
	}
	subject := fmt.Sprintf("Review requested: %s", proposalTitle)
	body := fmt.Sprintf(
		"The proposal %q has reached the %q step and is waiting on your review.\n\nActions available: %s / %s\n",
		proposalTitle, stepTitle, approveLabel, declineLabel,
	)
	return s.SendEmail(to, subject, body)
}

// NotifyAppealOpened tells the appeal reviewers that a failed step was
// appealed.
func (s *Service) NotifyAppealOpened(to []string, proposalTitle, stepTitle string) error {
	subject := fmt.Sprintf("Appeal opened: %s", proposalTitle)
	body := fmt.Sprintf(
		"The %q step of proposal %q failed and has been appealed. Your appeal review is requested.\n",
		stepTitle, proposalTitle,
	)
	return s.SendEmail(to, subject, body)
}

// NotifyProposalDecided tells the authors that a step reached a result.
func (s *Service) NotifyProposalDecided(to []string, proposalTitle, stepTitle, result string) error {
	subject := fmt.Sprintf("Proposal update: %s", proposalTitle)
	body := fmt.Sprintf("The %q step of proposal %q was decided: %s.\n", stepTitle, proposalTitle, result)
	return s.SendEmail(to, subject, body)
}

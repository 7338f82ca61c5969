package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Mailer sends an HTML message.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, html string) error
}

// ReportScheduler mails the hourly report on a cron schedule.
type ReportScheduler struct {
	cron       *cron.Cron
	schedule   string
	reports    *ReportService
	mailer     Mailer
	recipients []string
	timeout    time.Duration
}

// NewReportScheduler creates a scheduler. schedule is a standard five-field
// cron spec or a descriptor such as "@hourly", evaluated in UTC.
func NewReportScheduler(reports *ReportService, mailer Mailer, recipients []string, schedule string) *ReportScheduler {
	if schedule == "" {
		schedule = "@hourly"
	}
	return &ReportScheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		schedule:   schedule,
		reports:    reports,
		mailer:     mailer,
		recipients: recipients,
		timeout:    2 * time.Minute,
	}
}

// Start registers the report job and starts the cron loop.
func (s *ReportScheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			slog.Error("rate limit report job failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling rate limit report %q: %w", s.schedule, err)
	}

	s.cron.Start()
	slog.Info("rate limit report scheduler started", "schedule", s.schedule, "recipients", len(s.recipients))
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *ReportScheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("rate limit report scheduler stopped")
}

// RunOnce builds the report for the previous hour and mails it.
func (s *ReportScheduler) RunOnce(ctx context.Context) error {
	rep, err := s.reports.Hourly(ctx, time.Time{})
	if err != nil {
		return err
	}

	slog.Info("rate limit report built",
		"from", rep.From, "to", rep.To,
		"total", rep.TotalRequests, "blocked", rep.BlockedRequests)

	if len(s.recipients) == 0 || s.mailer == nil {
		return nil
	}

	body, err := Render(rep)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, s.recipients, Subject(rep), body)
}

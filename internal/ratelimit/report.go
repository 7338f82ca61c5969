package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/gradewise/meter/internal/clock"
)

// Report aggregates rate limit events over [From, To).
type Report struct {
	From            time.Time        `json:"from"`
	To              time.Time        `json:"to"`
	TotalRequests   int64            `json:"total_requests"`
	BlockedRequests int64            `json:"blocked_requests"`
	ByTier          []TierStat       `json:"by_tier"`
	TopIdentifiers  []IdentifierStat `json:"top_identifiers"`
}

// BlockRate is the fraction of requests that were blocked.
func (r *Report) BlockRate() float64 {
	if r.TotalRequests == 0 {
		return 0
	}
	return float64(r.BlockedRequests) / float64(r.TotalRequests)
}

type TierStat struct {
	Tier     string `json:"tier"`
	Requests int64  `json:"requests"`
	Blocked  int64  `json:"blocked"`
}

type IdentifierStat struct {
	Identifier     string         `json:"identifier"`
	IdentifierType IdentifierType `json:"identifier_type"`
	Requests       int64          `json:"requests"`
	Blocked        int64          `json:"blocked"`
}

// ReportSource aggregates stored events; *EventRepository satisfies it.
type ReportSource interface {
	Aggregate(ctx context.Context, from, to time.Time, top int) (*Report, error)
}

// ReportService builds rate limit reports.
type ReportService struct {
	source ReportSource
	clock  clock.Clock
	top    int
}

// NewReportService creates a ReportService listing up to top identifiers.
func NewReportService(source ReportSource, clk clock.Clock, top int) *ReportService {
	if clk == nil {
		clk = clock.Real{}
	}
	if top <= 0 {
		top = 10
	}
	return &ReportService{source: source, clock: clk, top: top}
}

// Hourly reports on the last full hour before end. A zero end means now.
func (s *ReportService) Hourly(ctx context.Context, end time.Time) (*Report, error) {
	if end.IsZero() {
		end = s.clock.Now()
	}
	to := end.UTC().Truncate(time.Hour)
	return s.Between(ctx, to.Add(-time.Hour), to)
}

// Between reports on an arbitrary range.
func (s *ReportService) Between(ctx context.Context, from, to time.Time) (*Report, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("report range: from %s is not before to %s", from, to)
	}
	rep, err := s.source.Aggregate(ctx, from, to, s.top)
	if err != nil {
		return nil, fmt.Errorf("building report: %w", err)
	}
	return rep, nil
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct": func(f float64) string { return fmt.Sprintf("%.1f%%", f*100) },
	"ts":  func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 MST") },
}).Parse(`<html><body>
<h2>Rate limit report</h2>
<p>{{ts .From}} to {{ts .To}}</p>
<p>Requests: {{.TotalRequests}}, blocked: {{.BlockedRequests}} ({{pct .BlockRate}})</p>
<table border="1" cellpadding="4">
<tr><th>Tier</th><th>Requests</th><th>Blocked</th></tr>
{{range .ByTier}}<tr><td>{{.Tier}}</td><td>{{.Requests}}</td><td>{{.Blocked}}</td></tr>
{{end}}</table>
<table border="1" cellpadding="4">
<tr><th>Identifier</th><th>Type</th><th>Requests</th><th>Blocked</th></tr>
{{range .TopIdentifiers}}<tr><td>{{.Identifier}}</td><td>{{.IdentifierType}}</td><td>{{.Requests}}</td><td>{{.Blocked}}</td></tr>
{{end}}</table>
</body></html>
`))

// Render formats rep as an HTML email body.
func Render(rep *Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, rep); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return buf.String(), nil
}

// Subject returns the email subject line for rep.
func Subject(rep *Report) string {
	return fmt.Sprintf("Rate limit report %s: %d blocked of %d",
		rep.From.UTC().Format("2006-01-02 15:04"), rep.BlockedRequests, rep.TotalRequests)
}

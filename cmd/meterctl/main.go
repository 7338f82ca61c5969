// Command meterctl runs operator tasks against a meter deployment.
//
// Usage:
//
//	meterctl token ops@example.com
//	meterctl verify 2f0c8f9e-0a3b-4f7e-9d43-3c1f1d2f8a10
//	meterctl report --from 2026-03-10T13:00:00Z --to 2026-03-10T14:00:00Z --mail
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gradewise/meter/internal/adminauth"
	"github.com/gradewise/meter/internal/config"
	"github.com/gradewise/meter/internal/database"
	"github.com/gradewise/meter/internal/mailer"
	"github.com/gradewise/meter/internal/ratelimit"
	"github.com/gradewise/meter/internal/wallet"
)

type CLI struct {
	Token  TokenCmd  `cmd:"" help:"Issue an admin JWT."`
	Verify VerifyCmd `cmd:"" help:"Check a user's token ledger for consistency."`
	Report ReportCmd `cmd:"" help:"Print or mail a rate limit report."`
}

type TokenCmd struct {
	Subject string `arg:"" help:"Subject recorded on admin actions."`
}

func (c *TokenCmd) Run(cfg *config.Config) error {
	token, err := adminauth.NewManager(cfg.JWT.AdminSecret, cfg.JWT.AdminExpiry, nil).Issue(c.Subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

type VerifyCmd struct {
	UserID string `arg:"" help:"Wallet owner."`
}

func (c *VerifyCmd) Run(cfg *config.Config) error {
	userID, err := uuid.Parse(c.UserID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	rep, err := wallet.NewService(wallet.NewRepository(pool), nil).VerifyLedger(ctx, userID)
	if err != nil {
		return err
	}
	if err := printJSON(rep); err != nil {
		return err
	}
	if !rep.Consistent {
		return fmt.Errorf("ledger for %s is inconsistent", userID)
	}
	return nil
}

type ReportCmd struct {
	From string `help:"Start of the range (RFC 3339). Defaults to the last full hour."`
	To   string `help:"End of the range (RFC 3339)."`
	Mail bool   `help:"Mail the report to REPORTS_RECIPIENTS instead of printing it."`
}

func (c *ReportCmd) Run(cfg *config.Config) error {
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	rep, err := c.build(ctx, pool)
	if err != nil {
		return err
	}
	if !c.Mail {
		return printJSON(rep)
	}

	html, err := ratelimit.Render(rep)
	if err != nil {
		return err
	}
	var sender ratelimit.Mailer = mailer.Log{}
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSMTP(mailer.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}
	return sender.Send(ctx, cfg.Reports.Recipients, ratelimit.Subject(rep), html)
}

func (c *ReportCmd) build(ctx context.Context, pool *pgxpool.Pool) (*ratelimit.Report, error) {
	reports := ratelimit.NewReportService(ratelimit.NewEventRepository(pool), nil, 0)
	if c.From == "" && c.To == "" {
		return reports.Hourly(ctx, time.Time{})
	}
	from, err := time.Parse(time.RFC3339, c.From)
	if err != nil {
		return nil, fmt.Errorf("parsing --from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, c.To)
	if err != nil {
		return nil, fmt.Errorf("parsing --to: %w", err)
	}
	return reports.Between(ctx, from, to)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("meterctl"),
		kong.Description("Operator tasks for the meter service"),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	err = ctx.Run(cfg)
	ctx.FatalIfErrorf(err)
}

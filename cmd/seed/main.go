package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"time"

	"passgate/internal/config"
	"passgate/internal/database"
	"passgate/internal/logger"
	"passgate/internal/models"
	"passgate/internal/qrcode"
	"passgate/internal/repository"
	"passgate/internal/service"
)

var (
	ticketCount   = flag.Int("tickets", 1000, "Number of tickets to create")
	eventID       = flag.Int64("event", 1, "Event ID for generated tickets")
	passID        = flag.Int64("pass", 1, "Pass ID for generated tickets")
	userCount     = flag.Int("users", 100, "Number of distinct owners")
	maxLines      = flag.Int("consumptions", 3, "Max consumption lines per ticket")
	clearExisting = flag.Bool("clear", false, "Delete existing tickets of the event before seeding")
	dryRun        = flag.Bool("dry-run", false, "Show what would be generated without making changes")
	codesFile     = flag.String("codes", "", "Write ticket_id,detail_id,code rows to this CSV file for load tests")
)

// TicketSeeder bulk-creates tickets with consumption details
type TicketSeeder struct {
	db      *database.DB
	tickets *service.TicketService
	rnd     *rand.Rand
}

func main() {
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.ValidateQRSecret(); err != nil {
		logger.Fatal("Invalid configuration", "error", err)
	}

	slog.Info("Starting ticket seeder...", "tickets", *ticketCount, "event_id", *eventID)

	ctx := context.Background()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	repos := repository.NewRepositories(db)
	seeder := &TicketSeeder{
		db:      db,
		tickets: service.NewTicketService(repos.Tickets, qrcode.NewCodec(cfg.QRSecret), cfg.QRTTL),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := seeder.Seed(ctx); err != nil {
		logger.Fatal("Failed to seed tickets", "error", err)
	}

	slog.Info("Ticket seeding completed successfully!")
}

func (s *TicketSeeder) Seed(ctx context.Context) error {
	if *clearExisting && !*dryRun {
		if err := s.clearEvent(ctx, *eventID); err != nil {
			return fmt.Errorf("failed to clear existing tickets: %w", err)
		}
	}

	var out *csv.Writer
	if *codesFile != "" && !*dryRun {
		f, err := os.Create(*codesFile)
		if err != nil {
			return fmt.Errorf("failed to create codes file: %w", err)
		}
		defer f.Close()
		out = csv.NewWriter(f)
		defer out.Flush()
		out.Write([]string{"ticket_id", "detail_id", "code"})
	}

	created := 0
	for i := 0; i < *ticketCount; i++ {
		req := s.randomTicket()

		if *dryRun {
			slog.Info("[DRY RUN] Would create ticket", "user_id", req.UserID, "consumption_lines", len(req.Consumptions))
			continue
		}

		view, err := s.tickets.Register(ctx, req)
		if err != nil {
			slog.Error("Failed to create ticket", "error", err, "user_id", req.UserID)
			continue
		}
		created++

		if out != nil {
			if err := s.writeCodes(ctx, out, view.TicketID); err != nil {
				slog.Error("Failed to issue codes", "error", err, "ticket_id", view.TicketID)
			}
		}

		if created%500 == 0 {
			slog.Info("Seeding progress", "created", created)
		}
	}

	slog.Info("Created tickets", "count", created, "event_id", *eventID)
	return nil
}

func (s *TicketSeeder) randomTicket() *models.RegisterTicketRequest {
	req := &models.RegisterTicketRequest{
		UserID:  "seed-user-" + strconv.Itoa(s.rnd.Intn(*userCount)+1),
		EventID: *eventID,
		PassID:  *passID,
	}

	lines := 0
	if *maxLines > 0 {
		lines = s.rnd.Intn(*maxLines + 1)
	}
	for l := 1; l <= lines; l++ {
		req.Consumptions = append(req.Consumptions, models.RegisterConsumptionDetail{
			ConsumptionTypeID: int64(l),
			Quantity:          s.rnd.Intn(5) + 1,
		})
	}
	return req
}

func (s *TicketSeeder) writeCodes(ctx context.Context, out *csv.Writer, ticketID string) error {
	codes, err := s.tickets.IssueCodes(ctx, ticketID, "")
	if err != nil {
		return err
	}

	out.Write([]string{ticketID, "", codes.EntryCode})
	for detailID, code := range codes.Consumptions {
		out.Write([]string{ticketID, detailID, code})
	}
	return out.Error()
}

func (s *TicketSeeder) clearEvent(ctx context.Context, eventID int64) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM redemption_records WHERE ticket_id IN (SELECT id FROM tickets WHERE event_id = $1)", eventID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM tickets WHERE event_id = $1", eventID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		slog.Info("Cleared existing tickets", "event_id", eventID, "count", n)
		return nil
	})
}

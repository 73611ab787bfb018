// Command survey-report renders the recorded defects of a survey
// session to PNG plots: the defect timeline, the bird's-eye survey map
// and the shape space. Run it without -session to list the recorded
// sessions first.
//
// Usage:
//
//	go run ./cmd/survey-report -db survey_data.db
//	go run ./cmd/survey-report -db survey_data.db -session <id> -out ./reports
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/wyvern-data/surface.report/internal/db"
	"github.com/wyvern-data/surface.report/internal/monitor"
	"github.com/wyvern-data/surface.report/internal/security"
)

var (
	dbFile    = flag.String("db", "survey_data.db", "Path to the SQLite database file")
	sessionID = flag.String("session", "", "Survey session to report on (empty: list recent sessions)")
	outDir    = flag.String("out", "reports", "Base directory for the generated plots")
	listLimit = flag.Int("limit", 20, "How many sessions to list")
)

const timeLayout = "2006-01-02 15:04:05"

func main() {
	flag.Parse()

	database, err := db.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open survey database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()

	if *sessionID == "" {
		if err := listSessions(ctx, database, *listLimit); err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		return
	}

	outputDir := monitor.MakeReportOutputDir(*outDir, *sessionID)
	if err := security.ValidateExportPath(outputDir); err != nil {
		log.Fatalf("Refusing output directory: %v", err)
	}

	plotter := monitor.NewSessionPlotter(outputDir)
	n, err := plotter.Generate(ctx, database, *sessionID)
	if err != nil {
		log.Fatalf("Failed to generate report: %v", err)
	}
	if n == 0 {
		fmt.Printf("Session %s has no recorded defects, nothing to plot\n", *sessionID)
		return
	}
	fmt.Printf("Wrote %d plots to %s\n", n, outputDir)
}

func listSessions(ctx context.Context, database *db.DB, limit int) error {
	sessions, err := database.RecentSessions(ctx, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No survey sessions recorded")
		return nil
	}

	fmt.Printf("%-36s  %-19s  %-19s  %s\n", "SESSION", "STARTED", "ENDED", "DEFECTS")
	for _, s := range sessions {
		ended := "open"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format(timeLayout)
		}
		fmt.Printf("%-36s  %-19s  %-19s  %d\n",
			s.ID, s.StartedAt.Local().Format(timeLayout), ended, s.DefectCount)
	}
	return nil
}

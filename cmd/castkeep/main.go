package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"castkeep/internal/app"
	"castkeep/internal/config"
	"castkeep/internal/domain"
	"castkeep/internal/logging"
	"castkeep/internal/storage"
)

func main() {
	importOPML := flag.String("import-opml", "", "import subscriptions from an OPML file and exit")
	exportOPML := flag.String("export-opml", "", "export subscriptions to an OPML file and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("failed to resolve home directory: %v", err)
	}

	baseDir := filepath.Join(home, ".castkeep")
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		log.Fatalf("failed to create config directory: %v", err)
	}

	logPath := filepath.Join(baseDir, "castkeep.log")
	logging.Configure(logPath)

	configPath := filepath.Join(baseDir, "config.yaml")
	cfg, err := config.Ensure(ctx, configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "app.db")
	db, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	application := app.New(cfg, db)
	defer application.Close()

	if err := application.RestoreQueue(ctx); err != nil {
		log.Printf("restore play queue: %v", err)
	}

	if *importOPML != "" && *exportOPML != "" {
		fmt.Fprintln(os.Stderr, "error: --import-opml and --export-opml cannot be used together")
		os.Exit(1)
	}

	if *exportOPML != "" {
		count, err := application.ExportOPML(ctx, *exportOPML)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error exporting OPML: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Exported %d subscriptions to %s.\n", count, *exportOPML)
		return
	}

	if *importOPML != "" {
		result, err := application.ImportOPML(ctx, *importOPML)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error importing OPML: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stdout, "Imported %d subscriptions, skipped %d already subscribed.\n", result.Imported, result.Skipped)
		if len(result.Errors) > 0 {
			fmt.Fprintln(os.Stdout, "Errors encountered:")
			for _, msg := range result.Errors {
				fmt.Fprintf(os.Stdout, "  %s\n", msg)
			}
		}
		return
	}

	if err := printStatus(ctx, application); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printStatus(ctx context.Context, application *app.App) error {
	podcasts, err := application.Subscriptions(ctx)
	if err != nil {
		return err
	}
	if len(podcasts) == 0 {
		fmt.Println("No subscriptions yet. Import some with --import-opml.")
		return nil
	}

	for _, podcast := range podcasts {
		status := application.CacheStatus(podcast.ID)
		fmt.Printf("%s [%s]\n", podcast.Title, describeStatus(status))
	}
	return nil
}

func describeStatus(status domain.CacheStatus) string {
	switch status.State {
	case domain.CacheStateEmpty:
		return "not fetched"
	case domain.CacheStateFailed:
		return fmt.Sprintf("failed: %s", status.Reason)
	default:
		return fmt.Sprintf("%s, updated %s", status.State, humanize.Time(status.LastUpdated))
	}
}

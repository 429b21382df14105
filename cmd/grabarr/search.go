package main

import (
	"database/sql"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/grabarr/grabarr/internal/blocklist"
	"github.com/grabarr/grabarr/internal/config"
	"github.com/grabarr/grabarr/internal/indexer"
	"github.com/grabarr/grabarr/internal/queue"
	"github.com/grabarr/grabarr/internal/release"
	"github.com/grabarr/grabarr/internal/selection"
)

func searchCmd() *cobra.Command {
	var (
		imdbID string
		tmdbID int
		grab   bool
	)

	cmd := &cobra.Command{
		Use:   "search [title]",
		Short: "Search the configured indexers for a movie",
		Long: `Search all configured indexers, rank the results, and print the
selection decision. With --grab, the winning release is enqueued for the
daemon to download.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := setupLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if len(cfg.Indexers) == 0 {
				return fmt.Errorf("no indexers configured")
			}

			title := ""
			if len(args) > 0 {
				title = args[0]
			}
			if title == "" && imdbID == "" && tmdbID == 0 {
				return fmt.Errorf("a title, --imdb, or --tmdb is required")
			}

			db, err := sql.Open("sqlite3", cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			queueStore, err := queue.NewSQLStore(db)
			if err != nil {
				return err
			}
			blocklistStore, err := blocklist.NewSQLStore(db)
			if err != nil {
				return err
			}

			clients, err := buildIndexerClients(cfg)
			if err != nil {
				return err
			}

			aggregator := indexer.NewAggregator(clients,
				cfg.Breaker.For(""), cfg.RateLimit.LimiterConfig(), logger)
			scorer := release.NewScorer(cfg.Scoring.Weights())
			blocklistSvc := blocklist.NewService(blocklistStore, logger)
			svc := selection.NewService(aggregator, scorer, blocklistSvc, queueStore, nil, logger)

			movie := selection.Movie{
				ID:     uuid.New(),
				Title:  title,
				IMDBID: imdbID,
				TMDBID: tmdbID,
			}

			if grab {
				item, decision, err := svc.AutoGrab(cmd.Context(), movie)
				if err != nil {
					return err
				}
				printDecision(decision)
				if item != nil {
					fmt.Printf("\nqueued %s (priority %s, id %s)\n",
						item.Title, item.Priority, item.ID)
				}
				return nil
			}

			decision, err := svc.FindBest(cmd.Context(), movie)
			if err != nil {
				return err
			}
			printDecision(decision)
			return nil
		},
	}

	cmd.Flags().StringVar(&imdbID, "imdb", "", "IMDB id (tt0133093)")
	cmd.Flags().IntVar(&tmdbID, "tmdb", 0, "TMDB id")
	cmd.Flags().BoolVar(&grab, "grab", false, "enqueue the winning release")
	return cmd
}

func printDecision(d *selection.Decision) {
	fmt.Printf("candidates: %d seen, %d blocklisted\n", d.CandidatesSeen, d.CandidatesBlocked)
	for _, e := range d.SearchErrors {
		fmt.Printf("indexer error: %s: %s\n", e.Indexer, e.Message)
	}
	if !d.Accepted {
		fmt.Printf("result: %s\n", d.Reason)
		return
	}

	c := d.Candidate
	size := "unknown size"
	if c.SizeBytes != nil {
		size = humanize.IBytes(uint64(*c.SizeBytes))
	}
	fmt.Printf("selected: %s\n", c.Title)
	fmt.Printf("  indexer: %s  score: %.1f  seeders: %d  size: %s\n",
		c.IndexerName, d.Score, c.SeederCount(), size)
	fmt.Printf("  quality: %s %s %s",
		c.Quality.Resolution, c.Quality.Source, c.Quality.Codec)
	if c.Quality.Group != "" {
		fmt.Printf("  group: %s", c.Quality.Group)
	}
	fmt.Println()
}

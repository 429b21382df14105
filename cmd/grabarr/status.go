package main

import (
	"database/sql"
	"fmt"

	"github.com/dustin/go-humanize"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/grabarr/grabarr/internal/config"
	"github.com/grabarr/grabarr/internal/queue"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			db, err := sql.Open("sqlite3", cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			store, err := queue.NewSQLStore(db)
			if err != nil {
				return err
			}

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("queue: %d items\n", stats.TotalItems)
			for _, status := range []queue.Status{
				queue.StatusQueued, queue.StatusDownloading, queue.StatusPaused,
				queue.StatusStalled, queue.StatusCompleted, queue.StatusFailed,
				queue.StatusImporting, queue.StatusImported,
			} {
				if count := stats.Counts[status]; count > 0 {
					fmt.Printf("  %-12s %d\n", status, count)
				}
			}
			fmt.Printf("active downloads: %d\n", stats.ActiveDownloads)
			fmt.Printf("download speed:   %s/s\n", humanize.IBytes(uint64(stats.TotalDownloadSpeed)))
			fmt.Printf("upload speed:     %s/s\n", humanize.IBytes(uint64(stats.TotalUploadSpeed)))
			fmt.Printf("downloaded:       %s\n", humanize.IBytes(uint64(stats.TotalDownloaded)))
			return nil
		},
	}
}

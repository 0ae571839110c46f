package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/ingest"
	"github.com/mohammad-safakhou/newsrag/internal/server"
	"github.com/mohammad-safakhou/newsrag/internal/vectorstore"
	gemini "github.com/mohammad-safakhou/newsrag/provider/gemini"
)

func main() {
	var cfgPath string

	root := &cobra.Command{Use: "newsrag"}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.json)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return server.Run(cfg)
		},
	}

	var clear bool
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, embed and index configured news feeds",
		Long: `Fetch, embed and index configured news feeds.

Only one ingestion run should target a collection at a time; concurrent
runs may upsert overlapping ids.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := cfg.Ingestion.Validate(); err != nil {
				return err
			}
			if err := cfg.Gemini.Validate(); err != nil {
				return err
			}

			store := vectorstore.New(cfg.Qdrant)
			prov := gemini.NewClient(cfg.Gemini)
			pipeline := ingest.New(cfg.Ingestion, prov, store)

			report, err := pipeline.Run(context.Background(), clear)
			if err != nil {
				return err
			}
			fmt.Printf("feeds fetched: %d, feeds failed: %d, articles: %d, ingested: %d, batches skipped: %d\n",
				report.FeedsFetched, report.FeedsFailed, report.Articles, report.Ingested, report.SkippedBatches)
			if report.Ingested == 0 && !clear {
				return fmt.Errorf("no articles ingested")
			}
			return nil
		},
	}
	ingestCmd.Flags().BoolVar(&clear, "clear", false, "wipe the collection before ingesting")

	root.AddCommand(serve, ingestCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

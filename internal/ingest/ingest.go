// Package ingest populates the vector collection from RSS/Atom feeds:
// fetch with bounded retries, clean markup, embed in batches and upsert.
//
// Ingestion is best effort. A dead feed or a failed embedding batch is
// logged and skipped; the run succeeds with whatever made it through.
// Running two ingestion passes against the same collection at once is not
// supported: both would upsert overlapping ids mid-run.
package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/internal/metrics"
	"github.com/mohammad-safakhou/newsrag/models"
)

// payloadContentLimit caps the content stored in the vector payload. The
// full cleaned text is only used for embedding.
const payloadContentLimit = 1000

// Embedder is the slice of the provider the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, []int, error)
}

// Store is the slice of the vector store the pipeline needs.
type Store interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, docs []models.Document) error
	Clear(ctx context.Context) error
}

// Report summarizes one ingestion run.
type Report struct {
	FeedsFetched   int
	FeedsFailed    int
	Articles       int
	Ingested       int
	SkippedBatches int
}

// Pipeline runs feed ingestion end to end.
type Pipeline struct {
	cfg        config.IngestionConfig
	embedder   Embedder
	store      Store
	cleaner    *Cleaner
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *log.Logger
	counter    uint64
}

// New creates a Pipeline. Batch pacing uses a token bucket filled at the
// configured interval, so one embedding batch proceeds immediately and the
// rest wait their turn.
func New(cfg config.IngestionConfig, embedder Embedder, store Store) *Pipeline {
	interval := cfg.BatchInterval
	limiter := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return &Pipeline{
		cfg:        cfg,
		embedder:   embedder,
		store:      store,
		cleaner:    NewCleaner(),
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// SetLimiter replaces the batch pacer. Tests inject an unlimited limiter.
func (p *Pipeline) SetLimiter(l *rate.Limiter) { p.limiter = l }

// Run executes one ingestion pass. When clear is set the collection is
// wiped first. Partial feed or batch failures do not fail the run.
func (p *Pipeline) Run(ctx context.Context, clear bool) (Report, error) {
	var report Report

	if err := p.store.EnsureCollection(ctx); err != nil {
		return report, fmt.Errorf("ensure collection: %w", err)
	}
	if clear {
		if err := p.store.Clear(ctx); err != nil {
			return report, fmt.Errorf("clear collection: %w", err)
		}
		p.logger.Printf("cleared collection before re-ingestion")
	}

	articles := p.collect(ctx, &report)
	report.Articles = len(articles)
	if len(articles) == 0 {
		p.logger.Printf("no articles collected from %d feeds", len(p.cfg.Feeds))
		return report, nil
	}

	docs := p.embed(ctx, articles, &report)
	if len(docs) == 0 {
		return report, nil
	}
	if err := p.store.Upsert(ctx, docs); err != nil {
		return report, fmt.Errorf("upsert documents: %w", err)
	}
	report.Ingested = len(docs)
	metrics.ArticlesIngested.Add(float64(report.Ingested))
	metrics.IngestBatchesSkipped.Add(float64(report.SkippedBatches))
	p.logger.Printf("ingested %d/%d articles (%d feeds failed, %d batches skipped)",
		report.Ingested, report.Articles, report.FeedsFailed, report.SkippedBatches)
	return report, nil
}

// collect fetches and cleans items from every configured feed, applying the
// per-feed and global caps.
func (p *Pipeline) collect(ctx context.Context, report *Report) []models.Article {
	var articles []models.Article
	for _, feedURL := range p.cfg.Feeds {
		if len(articles) >= p.cfg.MaxArticles {
			break
		}
		feed, err := p.fetchFeed(ctx, feedURL)
		if err != nil {
			report.FeedsFailed++
			p.logger.Printf("feed %s failed after %d attempts: %v", feedURL, p.cfg.FetchAttempts, err)
			continue
		}
		report.FeedsFetched++

		items := feed.Items
		if len(items) > p.cfg.MaxPerFeed {
			items = items[:p.cfg.MaxPerFeed]
		}
		for _, item := range items {
			if len(articles) >= p.cfg.MaxArticles {
				break
			}
			articles = append(articles, p.toArticle(item, feed.Title))
		}
	}
	return articles
}

// fetchFeed parses one feed with a bounded number of attempts and linear
// backoff between them.
func (p *Pipeline) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	attempts := p.cfg.FetchAttempts
	if attempts <= 0 {
		attempts = 1
	}
	parser := gofeed.NewParser()
	parser.Client = p.httpClient

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		feed, err := parser.ParseURLWithContext(feedURL, ctx)
		if err == nil {
			return feed, nil
		}
		lastErr = err
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * p.cfg.FetchBackoff):
			}
		}
	}
	return nil, lastErr
}

func (p *Pipeline) toArticle(item *gofeed.Item, feedTitle string) models.Article {
	published := item.Published
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	source := feedTitle
	if item.Author != nil && item.Author.Name != "" {
		source = item.Author.Name
	}

	description := p.cleaner.Clean(item.Description)
	content := p.cleaner.Clean(item.Content)
	if content == "" {
		content = description
	}
	return models.Article{
		ID:          p.articleID(item.Link),
		Title:       p.cleaner.Clean(item.Title),
		Description: description,
		Content:     truncate(content, p.cfg.ContentCeiling),
		Link:        item.Link,
		PublishedAt: published,
		Source:      source,
	}
}

// articleID derives a stable id from the article link so repeated runs
// upsert the same point instead of duplicating it. Items without a link get
// a run-local counter id.
func (p *Pipeline) articleID(link string) uint64 {
	if link == "" {
		p.counter++
		return p.counter
	}
	h := fnv.New64a()
	h.Write([]byte(link))
	return h.Sum64()
}

// embed turns articles into documents batch by batch. A failed batch is
// skipped; vectors are realigned to their articles through the index map
// the embedder returns, so articles whose cleaned text came up empty are
// dropped without shifting everyone else's vector.
func (p *Pipeline) embed(ctx context.Context, articles []models.Article, report *Report) []models.Document {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	ingestedAt := time.Now().UTC().Format(time.RFC3339)

	var docs []models.Document
	for start := 0; start < len(articles); start += batchSize {
		end := start + batchSize
		if end > len(articles) {
			end = len(articles)
		}
		batch := articles[start:end]

		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Printf("pacing interrupted: %v", err)
			report.SkippedBatches += (len(articles) - start + batchSize - 1) / batchSize
			break
		}

		texts := make([]string, len(batch))
		for i, a := range batch {
			texts[i] = embeddingText(a)
		}
		vectors, indexes, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			report.SkippedBatches++
			p.logger.Printf("batch %d-%d failed, skipping: %v", start, end, err)
			continue
		}
		for i, vec := range vectors {
			a := batch[indexes[i]]
			docs = append(docs, models.Document{
				ID:     a.ID,
				Vector: vec,
				Payload: models.Payload{
					Title:       a.Title,
					Description: a.Description,
					Content:     truncate(a.Content, payloadContentLimit),
					Link:        a.Link,
					PublishedAt: a.PublishedAt,
					Source:      a.Source,
					IngestedAt:  ingestedAt,
				},
			})
		}
	}
	return docs
}

func embeddingText(a models.Article) string {
	text := a.Title
	if a.Description != "" {
		text += " " + a.Description
	}
	if a.Content != "" && a.Content != a.Description {
		text += " " + a.Content
	}
	return text
}

package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pyama86/relscope/domain/entity"
	"github.com/pyama86/relscope/domain/repository"
	"golang.org/x/sync/errgroup"
)

// ErrNoCompanies はタスクを1つも組めない設定エラー
var ErrNoCompanies = errors.New("no companies configured")

type Coordinator struct {
	fetcher   repository.Fetcher
	extractor *Extractor
	// 1取得元あたりの時間予算。超過してもほかの会社には影響しない
	perSourceTimeout time.Duration
	concurrency      int
}

func NewCoordinator(fetcher repository.Fetcher, extractor *Extractor, perSourceTimeout time.Duration, concurrency int) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		fetcher:          fetcher,
		extractor:        extractor,
		perSourceTimeout: perSourceTimeout,
		concurrency:      concurrency,
	}
}

// RunAll は全社ぶんのfetch+extractを並行実行する。
// 要求された会社には必ずScrapeResultを返し、部分失敗でエラーにはしない。
func (c *Coordinator) RunAll(ctx context.Context, companies []entity.Company, from, to time.Time) (map[string]entity.ScrapeResult, error) {
	if len(companies) == 0 {
		return nil, ErrNoCompanies
	}

	results := make([]entity.ScrapeResult, len(companies))
	eg := new(errgroup.Group)
	eg.SetLimit(c.concurrency)
	for i, company := range companies {
		eg.Go(func() error {
			results[i] = c.scrapeOne(ctx, company, from, to)
			return nil
		})
	}
	// タスクはエラーを返さないのでWaitのエラーは無視できる
	_ = eg.Wait()

	resultMap := make(map[string]entity.ScrapeResult, len(results))
	for _, result := range results {
		resultMap[result.CompanyName] = result
	}
	return resultMap, nil
}

func (c *Coordinator) scrapeOne(ctx context.Context, company entity.Company, from, to time.Time) entity.ScrapeResult {
	ctx, cancel := context.WithTimeout(ctx, c.perSourceTimeout)
	defer cancel()

	result := entity.ScrapeResult{CompanyName: company.Name}

	page, err := c.fetcher.FetchPage(ctx, company.StatusURL)
	if err != nil {
		slog.Error("Failed to fetch status page",
			slog.String("company", company.Name),
			slog.String("url", company.StatusURL),
			slog.Any("error", err),
		)
		result.FetchStatus = entity.FetchStatusFailed
		detail := err.Error()
		result.ErrorDetail = &detail
		return result
	}

	incidents, skipped, err := c.extractor.Extract(page, company.Name)
	if err != nil {
		slog.Error("Failed to extract incidents",
			slog.String("company", company.Name),
			slog.Any("error", err),
		)
		result.FetchStatus = entity.FetchStatusFailed
		detail := err.Error()
		result.ErrorDetail = &detail
		return result
	}

	result.Incidents = filterTimeframe(incidents, from, to)
	if skipped > 0 {
		result.FetchStatus = entity.FetchStatusPartial
		detail := "some incident entries could not be parsed"
		result.ErrorDetail = &detail
	} else {
		result.FetchStatus = entity.FetchStatusSucceeded
	}

	slog.Info("Scraped status page",
		slog.String("company", company.Name),
		slog.Int("incidents", len(result.Incidents)),
		slog.Int("skipped", skipped),
	)
	return result
}

// filterTimeframe は期間外のインシデントを落とす純粋な後処理。
// 開始日時を推定できなかったものは判断できないため残す。
func filterTimeframe(incidents []entity.Incident, from, to time.Time) []entity.Incident {
	filtered := make([]entity.Incident, 0, len(incidents))
	for _, incident := range incidents {
		if incident.StartInferred {
			filtered = append(filtered, incident)
			continue
		}
		if incident.StartTime.Before(from) || incident.StartTime.After(to) {
			continue
		}
		filtered = append(filtered, incident)
	}
	return filtered
}

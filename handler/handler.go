package handler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pyama86/relscope/analyzer"
	"github.com/pyama86/relscope/domain/entity"
	"github.com/pyama86/relscope/domain/repository"
	"github.com/pyama86/relscope/presentation/report"
	"github.com/pyama86/relscope/scraper"
)

// Pipeline はスクレイプから分析マージまでの一連を実行する。
// aiがnilの場合はルールベースのみで完走する。
type Pipeline struct {
	config  *repository.Config
	fetcher repository.Fetcher
	ai      repository.AIRepositorier
}

func NewPipeline(config *repository.Config, fetcher repository.Fetcher, ai repository.AIRepositorier) *Pipeline {
	return &Pipeline{
		config:  config,
		fetcher: fetcher,
		ai:      ai,
	}
}

// Run はスクレイプ結果と統合済みの分析結果を返す。
// 所有権はここで呼び出し側に渡り、以降パイプラインは参照を保持しない。
func (p *Pipeline) Run(ctx context.Context) (map[string]entity.ScrapeResult, *entity.AnalysisResult, error) {
	from, to, err := p.config.Window()
	if err != nil {
		return nil, nil, err
	}

	// リトライ分も含めた1取得元あたりの時間予算
	perSource := time.Duration(p.config.Scraping.Timeout*(p.config.Scraping.MaxRetries+1)) * time.Second

	coordinator := scraper.NewCoordinator(
		p.fetcher,
		scraper.NewExtractor(),
		perSource,
		p.config.Scraping.Concurrency,
	)

	scrapeResults, err := coordinator.RunAll(ctx, p.config.Companies(ctx), from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scrape status pages: %w", err)
	}

	incidentsByCompany := make(map[string][]entity.Incident, len(scrapeResults))
	for name, result := range scrapeResults {
		incidentsByCompany[name] = result.Incidents
	}

	ruleAnalyzer := analyzer.NewRuleAnalyzer(
		p.config.Analysis.MinIncidentsForKeyIssue,
		p.config.Analysis.SimilarityThreshold,
		p.config.Analysis.TrendDeviation,
	)
	baseline := ruleAnalyzer.Analyze(incidentsByCompany)

	enrichments := make(map[string]*entity.CompanyEnrichment)
	if p.ai != nil {
		enricher := analyzer.NewEnricher(p.ai)
		enrichments = enricher.EnrichAll(ctx, p.config.TargetCompany.Name, incidentsByCompany, baseline)
	} else {
		slog.Info("Enrichment disabled, producing rule-based result only")
	}

	final := analyzer.Merge(baseline, incidentsByCompany, enrichments, p.config.TargetCompany.Name)
	return scrapeResults, final, nil
}

// Handle は設定を読み込み、依存を組み立てて1回分の実行とレポート出力を行う
func Handle(ctx context.Context, configPath, apiKey, outputPath string) error {
	config, err := repository.NewConfigRepository(configPath)
	if err != nil {
		return err
	}

	browserRepository, err := repository.NewBrowserRepository(config.Scraping)
	if err != nil {
		return err
	}
	defer browserRepository.Close()

	aiRepository, err := repository.NewAIRepository(apiKey, config.OpenAI.Model)
	if err != nil {
		return err
	}
	var ai repository.AIRepositorier
	if aiRepository != nil {
		ai = aiRepository
	} else {
		slog.Info("OpenAI credentials not configured, enrichment will be skipped")
	}

	pipeline := NewPipeline(config, browserRepository, ai)
	scrapeResults, analysis, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	// 実行が完走した場合のみ書き出す
	artifact := report.Build(scrapeResults, analysis)
	if err := artifact.WriteJSON(outputPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	slog.Info("Report written",
		slog.String("path", outputPath),
		slog.String("mode", string(analysis.Mode)),
	)
	return nil
}

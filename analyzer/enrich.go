package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/pyama86/relscope/domain/entity"
	"github.com/pyama86/relscope/domain/repository"
)

// Enricher はLLMエンリッチを全社に適用するオーケストレータ。
// ピア各社を先に処理してカテゴリ語彙を作り、最後にターゲットへ比較サマリ込みで依頼する。
type Enricher struct {
	ai repository.AIRepositorier
}

func NewEnricher(ai repository.AIRepositorier) *Enricher {
	return &Enricher{ai: ai}
}

// EnrichAll は会社ごとのエンリッチ結果を返す。失敗した会社はマップに入らない。
// 1社の失敗はほかの会社の処理を止めない。
func (e *Enricher) EnrichAll(ctx context.Context, target string, incidentsByCompany map[string][]entity.Incident, baseline *entity.AnalysisResult) map[string]*entity.CompanyEnrichment {
	enrichments := make(map[string]*entity.CompanyEnrichment)

	peers := make([]string, 0, len(incidentsByCompany))
	for company := range incidentsByCompany {
		if company != target {
			peers = append(peers, company)
		}
	}
	sort.Strings(peers)

	var knownCategories []string
	for _, company := range peers {
		enrichment, err := e.ai.EnrichCompany(ctx, repository.EnrichmentRequest{
			CompanyName:     company,
			Incidents:       incidentsByCompany[company],
			KnownCategories: knownCategories,
		})
		if err != nil {
			slog.Warn("Enrichment unavailable for peer company",
				slog.String("company", company),
				slog.Any("error", err),
			)
			continue
		}
		enrichments[company] = enrichment
		for _, category := range enrichment.Categories {
			knownCategories = appendUnique(knownCategories, category)
		}
	}

	targetIncidents, ok := incidentsByCompany[target]
	if !ok {
		slog.Warn("Target company has no scraped incidents, skipping target enrichment", slog.String("company", target))
		return enrichments
	}

	enrichment, err := e.ai.EnrichCompany(ctx, repository.EnrichmentRequest{
		CompanyName:     target,
		Incidents:       targetIncidents,
		KnownCategories: knownCategories,
		PeerContext:     peerContext(peers, baseline, enrichments),
		IsTarget:        true,
	})
	if err != nil {
		slog.Warn("Enrichment unavailable for target company",
			slog.String("company", target),
			slog.Any("error", err),
		)
		return enrichments
	}
	enrichments[target] = enrichment
	return enrichments
}

// peerContext は比較サマリの材料になるピア各社の集計を文字列化する
func peerContext(peers []string, baseline *entity.AnalysisResult, enrichments map[string]*entity.CompanyEnrichment) string {
	var b strings.Builder
	for _, company := range peers {
		stats, ok := baseline.PerCompanyStats[company]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %d incidents, MTTR %.0f minutes", company, stats.IncidentCount, stats.MTTRMinutes)
		if enrichment, ok := enrichments[company]; ok && enrichment.Summary != "" {
			fmt.Fprintf(&b, " / %s", enrichment.Summary)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

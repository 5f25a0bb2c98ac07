package analyzer

import (
	"sort"

	"github.com/pyama86/relscope/domain/entity"
)

// Merge はルールベースの結果とエンリッチ結果を1つにまとめる。
// スキーマ検証を通ったエンリッチ値が勝ち、無い場合はルールベース値をそのまま残す。
// analysis_modeはターゲット会社のエンリッチが成立した場合のみenrichedになる。
func Merge(baseline *entity.AnalysisResult, incidentsByCompany map[string][]entity.Incident, enrichments map[string]*entity.CompanyEnrichment, target string) *entity.AnalysisResult {
	result := &entity.AnalysisResult{
		PerCompanyStats: make(map[string]entity.CompanyStats, len(incidentsByCompany)),
		Trends:          baseline.Trends,
		Mode:            entity.AnalysisModeRuleBasedOnly,
	}

	for company, incidents := range incidentsByCompany {
		if enrichment, ok := enrichments[company]; ok {
			applyEnrichment(incidents, enrichment)
		}
		result.PerCompanyStats[company] = companyStats(incidents)
	}

	result.KeyIssues = append(result.KeyIssues, baseline.KeyIssues...)
	for company, enrichment := range enrichments {
		for _, issue := range enrichment.KeyIssues {
			result.KeyIssues = append(result.KeyIssues, entity.KeyIssue{
				Description:       issue.Title,
				AffectedCompanies: []string{company},
				OccurrenceCount:   issue.Occurrences,
			})
		}
	}
	sort.SliceStable(result.KeyIssues, func(i, j int) bool {
		if result.KeyIssues[i].OccurrenceCount != result.KeyIssues[j].OccurrenceCount {
			return result.KeyIssues[i].OccurrenceCount > result.KeyIssues[j].OccurrenceCount
		}
		return result.KeyIssues[i].LastOccurrence.After(result.KeyIssues[j].LastOccurrence)
	})

	if enrichment, ok := enrichments[target]; ok {
		result.Mode = entity.AnalysisModeEnriched
		if enrichment.ComparativeSummary != "" {
			summary := enrichment.ComparativeSummary
			result.ComparativeSummary = &summary
		}
	}

	return result
}

// applyEnrichment は安定IDで突き合わせながらインシデントへ上書きを反映する。
// 突き合わせ先の無いIDは捨てる。
func applyEnrichment(incidents []entity.Incident, enrichment *entity.CompanyEnrichment) {
	byID := make(map[string]*entity.Incident, len(incidents))
	for i := range incidents {
		byID[incidents[i].ID()] = &incidents[i]
	}

	for _, item := range enrichment.Incidents {
		incident, ok := byID[item.IncidentID]
		if !ok {
			continue
		}
		category := item.Category
		incident.Category = &category
		incident.CategoryAIAsserted = true
		severity := entity.Severity(item.Severity)
		incident.Severity = &severity
		// durationは取得元から読めなかった場合のみ推定値で補う
		if incident.DurationMinutes == nil && item.DurationMinutes != nil {
			minutes := *item.DurationMinutes
			incident.DurationMinutes = &minutes
		}
		if item.RootCause != "" {
			rootCause := item.RootCause
			incident.RootCause = &rootCause
		}
	}
}

package analyzer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/relscope/analyzer"
	"github.com/pyama86/relscope/domain/entity"
)

func TestMergeWithoutEnrichmentKeepsBaseline(t *testing.T) {
	a := analyzer.NewRuleAnalyzer(2, 0.5, 0.5)
	incidents := map[string][]entity.Incident{
		"Acme": {
			incident("Acme", "db down", "database outage", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), minutes(30)),
			incident("Acme", "db slow", "database latency", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), nil),
		},
	}
	baseline := a.Analyze(incidents)

	merged := analyzer.Merge(baseline, incidents, nil, "Acme")

	assert.Equal(t, entity.AnalysisModeRuleBasedOnly, merged.Mode)
	assert.Nil(t, merged.ComparativeSummary)
	assert.Equal(t, baseline.PerCompanyStats["Acme"], merged.PerCompanyStats["Acme"])
	assert.Equal(t, baseline.KeyIssues, merged.KeyIssues)
	assert.Equal(t, baseline.Trends, merged.Trends)
}

func TestMergeEnrichmentOverridesCategoryAndSeverity(t *testing.T) {
	a := analyzer.NewRuleAnalyzer(2, 0.5, 0.5)
	incidents := map[string][]entity.Incident{
		"Acme": {
			incident("Acme", "strange errors", "requests returning 500s", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil),
		},
	}
	baseline := a.Analyze(incidents)
	require.Equal(t, "API", *incidents["Acme"][0].Category)

	enrichments := map[string]*entity.CompanyEnrichment{
		"Acme": {
			CompanyName: "Acme",
			Incidents: []entity.IncidentEnrichment{
				{
					IncidentID: incidents["Acme"][0].ID(),
					Category:   "Database",
					Severity:   "critical",
					RootCause:  "connection pool exhaustion",
				},
			},
			ComparativeSummary: "Acme had more incidents than its peers.",
		},
	}

	merged := analyzer.Merge(baseline, incidents, enrichments, "Acme")

	inc := incidents["Acme"][0]
	assert.Equal(t, "Database", *inc.Category)
	assert.True(t, inc.CategoryAIAsserted)
	assert.Equal(t, entity.SeverityCritical, *inc.Severity)
	require.NotNil(t, inc.RootCause)
	assert.Equal(t, "connection pool exhaustion", *inc.RootCause)

	assert.Equal(t, entity.AnalysisModeEnriched, merged.Mode)
	require.NotNil(t, merged.ComparativeSummary)
	assert.Equal(t, "Acme had more incidents than its peers.", *merged.ComparativeSummary)
	// 統計はエンリッチ後のカテゴリで再計算される
	assert.Equal(t, 1, merged.PerCompanyStats["Acme"].CategoryBreakdown["Database"])
	assert.Zero(t, merged.PerCompanyStats["Acme"].CategoryBreakdown["API"])
}

func TestMergeFillsDurationOnlyWhenUnknown(t *testing.T) {
	a := analyzer.NewRuleAnalyzer(2, 0.5, 0.5)
	incidents := map[string][]entity.Incident{
		"Acme": {
			incident("Acme", "known duration", "network outage", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), minutes(30)),
			incident("Acme", "unknown duration", "network outage", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), nil),
		},
	}
	baseline := a.Analyze(incidents)

	enrichments := map[string]*entity.CompanyEnrichment{
		"Acme": {
			Incidents: []entity.IncidentEnrichment{
				{IncidentID: incidents["Acme"][0].ID(), Category: "Network", Severity: "high", DurationMinutes: minutes(999)},
				{IncidentID: incidents["Acme"][1].ID(), Category: "Network", Severity: "high", DurationMinutes: minutes(45)},
			},
		},
	}

	analyzer.Merge(baseline, incidents, enrichments, "Acme")

	// 取得元で読めていた値はLLMの推定で上書きしない
	assert.Equal(t, 30, *incidents["Acme"][0].DurationMinutes)
	assert.Equal(t, 45, *incidents["Acme"][1].DurationMinutes)
}

func TestMergePeerEnrichmentDoesNotFlipMode(t *testing.T) {
	a := analyzer.NewRuleAnalyzer(2, 0.5, 0.5)
	incidents := map[string][]entity.Incident{
		"Acme":    {incident("Acme", "db down", "database outage", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil)},
		"PeerOne": {incident("PeerOne", "db down", "database outage", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), nil)},
	}
	baseline := a.Analyze(incidents)

	enrichments := map[string]*entity.CompanyEnrichment{
		"PeerOne": {
			Incidents:          []entity.IncidentEnrichment{{IncidentID: incidents["PeerOne"][0].ID(), Category: "Database", Severity: "high"}},
			ComparativeSummary: "should not surface",
		},
	}

	merged := analyzer.Merge(baseline, incidents, enrichments, "Acme")

	// ターゲットのエンリッチが無ければモードは据え置き
	assert.Equal(t, entity.AnalysisModeRuleBasedOnly, merged.Mode)
	assert.Nil(t, merged.ComparativeSummary)
}

func TestMergeAppendsEnrichmentKeyIssues(t *testing.T) {
	a := analyzer.NewRuleAnalyzer(2, 0.5, 0.5)
	incidents := map[string][]entity.Incident{
		"Acme": {
			incident("Acme", "db down", "database outage", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil),
			incident("Acme", "db slow", "database latency", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), nil),
		},
	}
	baseline := a.Analyze(incidents)
	require.Len(t, baseline.KeyIssues, 1)

	enrichments := map[string]*entity.CompanyEnrichment{
		"Acme": {
			KeyIssues: []entity.KeyIssueEnrichment{
				{Title: "Recurring connection pool exhaustion", Occurrences: 5},
			},
		},
	}

	merged := analyzer.Merge(baseline, incidents, enrichments, "Acme")

	require.Len(t, merged.KeyIssues, 2)
	// 件数降順で並ぶのでLLM由来の5件が先頭
	assert.Equal(t, "Recurring connection pool exhaustion", merged.KeyIssues[0].Description)
	assert.Equal(t, []string{"Acme"}, merged.KeyIssues[0].AffectedCompanies)
	assert.Equal(t, 5, merged.KeyIssues[0].OccurrenceCount)
}

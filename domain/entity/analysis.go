package entity

import "time"

type AnalysisMode string

const (
	AnalysisModeRuleBasedOnly AnalysisMode = "rule_based_only"
	AnalysisModeEnriched      AnalysisMode = "enriched"
)

type CompanyStats struct {
	IncidentCount int `json:"incident_count"`
	// 既知のdurationのみの平均。不明分はUnknownDurationCountに分離して数える
	MTTRMinutes          float64        `json:"mttr_minutes"`
	UnknownDurationCount int            `json:"unknown_duration_count"`
	CategoryBreakdown    map[string]int `json:"category_breakdown"`
}

type KeyIssue struct {
	Description       string    `json:"description"`
	AffectedCompanies []string  `json:"affected_companies"`
	OccurrenceCount   int       `json:"occurrence_count"`
	LastOccurrence    time.Time `json:"last_occurrence"`
}

type Trend struct {
	PatternDescription    string   `json:"pattern_description"`
	SupportingIncidentIDs []string `json:"supporting_incident_ids"`
}

type AnalysisResult struct {
	PerCompanyStats    map[string]CompanyStats `json:"per_company_stats"`
	KeyIssues          []KeyIssue              `json:"key_issues"`
	Trends             []Trend                 `json:"trends"`
	ComparativeSummary *string                 `json:"comparative_summary,omitempty"`
	Mode               AnalysisMode            `json:"analysis_mode"`
}

// IncidentEnrichment はLLMが1インシデントに対して返す判定。
// IncidentIDで元レコードと突き合わせる。
type IncidentEnrichment struct {
	IncidentID      string `json:"incident_id" validate:"required"`
	Category        string `json:"category" validate:"required"`
	Severity        string `json:"severity" validate:"required,oneof=low medium high critical"`
	DurationMinutes *int   `json:"duration_minutes,omitempty" validate:"omitempty,gte=0"`
	RootCause       string `json:"root_cause,omitempty"`
}

type KeyIssueEnrichment struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Occurrences int    `json:"occurrences" validate:"gte=0"`
}

// CompanyEnrichment は1社分のスキーマ検証済みLLM出力
type CompanyEnrichment struct {
	CompanyName        string               `json:"company_name"`
	Incidents          []IncidentEnrichment `json:"incidents" validate:"dive"`
	KeyIssues          []KeyIssueEnrichment `json:"key_issues" validate:"dive"`
	Summary            string               `json:"summary"`
	ComparativeSummary string               `json:"comparative_summary,omitempty"`
	Categories         []string             `json:"categories,omitempty"`
}

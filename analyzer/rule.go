package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pyama86/relscope/domain/entity"
)

// CategoryRule はラベルとトリガー語の組。
type CategoryRule struct {
	Label    string
	Triggers []string
}

// カテゴリ判定は先頭から順に評価し、最初に一致したものを採用する。
// 複数カテゴリに跨る語を含むインシデントはこの並び順が優先順位になる。
var defaultCategoryRules = []CategoryRule{
	{Label: "API", Triggers: []string{"api", "endpoint", "request", "response"}},
	{Label: "Database", Triggers: []string{"database", "db", "mysql", "postgres", "mongodb", "redis", "cache"}},
	{Label: "Network", Triggers: []string{"network", "connectivity", "dns", "routing", "traffic"}},
	{Label: "Infrastructure", Triggers: []string{"server", "hardware", "datacenter", "infrastructure", "capacity"}},
	{Label: "Security", Triggers: []string{"security", "authentication", "authorization", "ssl", "certificate"}},
	{Label: "Performance", Triggers: []string{"performance", "slow", "latency", "timeout", "degraded"}},
	{Label: "Storage", Triggers: []string{"storage", "disk", "s3", "blob", "volume"}},
	{Label: "UI/Frontend", Triggers: []string{"ui", "frontend", "web", "interface", "dashboard"}},
	{Label: "Scheduled Maintenance", Triggers: []string{"maintenance", "upgrade", "scheduled", "planned"}},
	{Label: "Third-party", Triggers: []string{"third-party", "vendor", "dependency", "external"}},
}

const uncategorizedLabel = "Other"

type RuleAnalyzer struct {
	rules                   []CategoryRule
	minIncidentsForKeyIssue int
	similarityThreshold     float64
	trendDeviation          float64
}

func NewRuleAnalyzer(minIncidentsForKeyIssue int, similarityThreshold, trendDeviation float64) *RuleAnalyzer {
	if minIncidentsForKeyIssue < 1 {
		minIncidentsForKeyIssue = 1
	}
	return &RuleAnalyzer{
		rules:                   defaultCategoryRules,
		minIncidentsForKeyIssue: minIncidentsForKeyIssue,
		similarityThreshold:     similarityThreshold,
		trendDeviation:          trendDeviation,
	}
}

// Analyze はルールベースのベースライン分析を行う。
// インシデントのCategory/Severityはここで初期値が入り、エンリッチが上書きすることがある。
func (a *RuleAnalyzer) Analyze(incidentsByCompany map[string][]entity.Incident) *entity.AnalysisResult {
	result := &entity.AnalysisResult{
		PerCompanyStats: make(map[string]entity.CompanyStats, len(incidentsByCompany)),
		Mode:            entity.AnalysisModeRuleBasedOnly,
	}

	for company, incidents := range incidentsByCompany {
		for i := range incidents {
			inc := &incidents[i]
			category := a.categorize(inc)
			inc.Category = &category
			severity := baselineSeverity(inc)
			inc.Severity = &severity
		}
		result.PerCompanyStats[company] = companyStats(incidents)
	}

	result.KeyIssues = a.keyIssues(incidentsByCompany)
	result.Trends = a.trends(incidentsByCompany)
	return result
}

// categorize は先頭一致でカテゴリを決める
func (a *RuleAnalyzer) categorize(inc *entity.Incident) string {
	text := strings.ToLower(inc.Title + " " + inc.RawDescription)
	for _, rule := range a.rules {
		for _, trigger := range rule.Triggers {
			if strings.Contains(text, trigger) {
				return rule.Label
			}
		}
	}
	return uncategorizedLabel
}

// baselineSeverity は原文のキーワード段階でシビリティの初期値を付ける
func baselineSeverity(inc *entity.Incident) entity.Severity {
	text := strings.ToLower(inc.Title + " " + inc.RawDescription + " " + string(inc.Status))
	switch {
	case containsAny(text, "critical", "severe", "outage", "down"):
		return entity.SeverityCritical
	case containsAny(text, "major", "degraded", "significant"):
		return entity.SeverityHigh
	case containsAny(text, "minor", "partial", "limited"):
		return entity.SeverityMedium
	default:
		return entity.SeverityLow
	}
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func companyStats(incidents []entity.Incident) entity.CompanyStats {
	stats := entity.CompanyStats{
		IncidentCount:     len(incidents),
		CategoryBreakdown: CategoryBreakdown(incidents),
	}

	var total, known int
	for i := range incidents {
		minutes, ok := effectiveDurationMinutes(&incidents[i])
		if !ok {
			stats.UnknownDurationCount++
			continue
		}
		total += minutes
		known++
	}
	if known > 0 {
		stats.MTTRMinutes = float64(total) / float64(known)
	}
	return stats
}

// CategoryBreakdown はカテゴリ別件数を数える。マージ後の再計算でも使う。
func CategoryBreakdown(incidents []entity.Incident) map[string]int {
	breakdown := make(map[string]int)
	for i := range incidents {
		label := uncategorizedLabel
		if incidents[i].Category != nil {
			label = *incidents[i].Category
		}
		breakdown[label]++
	}
	return breakdown
}

func effectiveDurationMinutes(inc *entity.Incident) (int, bool) {
	if inc.DurationMinutes != nil {
		return *inc.DurationMinutes, true
	}
	if inc.EndTime != nil && !inc.StartInferred {
		return int(inc.EndTime.Sub(inc.StartTime).Minutes()), true
	}
	return 0, false
}

// keyIssues は会社内でカテゴリごとに件数を数え、しきい値以上を主要課題として返す。
// 同一カテゴリは会社横断で1件にまとめる。件数降順、同数は直近発生順。
func (a *RuleAnalyzer) keyIssues(incidentsByCompany map[string][]entity.Incident) []entity.KeyIssue {
	type group struct {
		companies map[string]bool
		incidents []entity.Incident
	}
	groups := make(map[string]*group)

	for company, incidents := range incidentsByCompany {
		perCategory := make(map[string][]entity.Incident)
		for _, inc := range incidents {
			if inc.Category == nil {
				continue
			}
			perCategory[*inc.Category] = append(perCategory[*inc.Category], inc)
		}
		for category, categoryIncidents := range perCategory {
			if len(categoryIncidents) < a.minIncidentsForKeyIssue {
				continue
			}
			g := groups[category]
			if g == nil {
				g = &group{companies: make(map[string]bool)}
				groups[category] = g
			}
			g.companies[company] = true
			g.incidents = append(g.incidents, categoryIncidents...)
		}
	}

	issues := make([]entity.KeyIssue, 0, len(groups))
	for category, g := range groups {
		var last time.Time
		for _, inc := range g.incidents {
			if inc.StartTime.After(last) {
				last = inc.StartTime
			}
		}
		companies := make([]string, 0, len(g.companies))
		for c := range g.companies {
			companies = append(companies, c)
		}
		sort.Strings(companies)

		issues = append(issues, entity.KeyIssue{
			Description:       a.issueDescription(category, g.incidents),
			AffectedCompanies: companies,
			OccurrenceCount:   len(g.incidents),
			LastOccurrence:    last,
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].OccurrenceCount != issues[j].OccurrenceCount {
			return issues[i].OccurrenceCount > issues[j].OccurrenceCount
		}
		return issues[i].LastOccurrence.After(issues[j].LastOccurrence)
	})
	return issues
}

// issueDescription は似通ったタイトルの繰り返しがあればそれを代表に据える
func (a *RuleAnalyzer) issueDescription(category string, incidents []entity.Incident) string {
	bestTitle := ""
	bestCount := 1
	for i := range incidents {
		count := 1
		for j := range incidents {
			if i == j {
				continue
			}
			if titleSimilarity(incidents[i].Title, incidents[j].Title) >= a.similarityThreshold {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestTitle = incidents[i].Title
		}
	}
	if bestTitle != "" && bestCount*2 >= len(incidents) {
		return fmt.Sprintf("%s (recurring: %s)", category, bestTitle)
	}
	return category
}

// titleSimilarity はタイトルの単語集合のJaccard係数
func titleSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,:;!?()[]\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// trends は月次バケットを自社のそれまでの平均と比べ、閾値超の偏差を報告する。
// 統計検定ではなくヒューリスティクスとしてのシグナル。
func (a *RuleAnalyzer) trends(incidentsByCompany map[string][]entity.Incident) []entity.Trend {
	var trends []entity.Trend

	companies := make([]string, 0, len(incidentsByCompany))
	for c := range incidentsByCompany {
		companies = append(companies, c)
	}
	sort.Strings(companies)

	for _, company := range companies {
		buckets := make(map[string][]entity.Incident)
		for _, inc := range incidentsByCompany[company] {
			if inc.StartInferred {
				continue
			}
			buckets[inc.StartTime.Format("2006-01")] = append(buckets[inc.StartTime.Format("2006-01")], inc)
		}
		if len(buckets) < 2 {
			continue
		}

		months := make([]string, 0, len(buckets))
		for m := range buckets {
			months = append(months, m)
		}
		sort.Strings(months)

		seen := 0
		sum := 0
		for _, month := range months {
			count := len(buckets[month])
			if seen > 0 {
				avg := float64(sum) / float64(seen)
				if deviation := float64(count) - avg; deviation > avg*a.trendDeviation {
					ids := make([]string, 0, count)
					for i := range buckets[month] {
						ids = append(ids, buckets[month][i].ID())
					}
					trends = append(trends, entity.Trend{
						PatternDescription:    fmt.Sprintf("%s: incident spike in %s (%d vs trailing average %.1f)", company, month, count, avg),
						SupportingIncidentIDs: ids,
					})
				} else if avg-float64(count) > avg*a.trendDeviation {
					ids := make([]string, 0, count)
					for i := range buckets[month] {
						ids = append(ids, buckets[month][i].ID())
					}
					trends = append(trends, entity.Trend{
						PatternDescription:    fmt.Sprintf("%s: incident drop in %s (%d vs trailing average %.1f)", company, month, count, avg),
						SupportingIncidentIDs: ids,
					})
				}
			}
			seen++
			sum += count
		}
	}
	return trends
}

package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type IncidentStatus string

const (
	IncidentStatusResolved      IncidentStatus = "resolved"
	IncidentStatusMonitoring    IncidentStatus = "monitoring"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusUnknown       IncidentStatus = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity は列挙外の値を弾く
func ValidSeverity(s string) bool {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Incident はステータスページの掲載1件分を表す。
// Category/Severity/DurationMinutes はどちらかのアナライザが埋める。
type Incident struct {
	SourceCompany      string         `json:"source_company"`
	Title              string         `json:"title"`
	RawDescription     string         `json:"raw_description"`
	StartTime          time.Time      `json:"start_time"`
	StartInferred      bool           `json:"start_inferred"`
	EndTime            *time.Time     `json:"end_time,omitempty"`
	Status             IncidentStatus `json:"status"`
	Category           *string        `json:"category,omitempty"`
	CategoryAIAsserted bool           `json:"category_ai_asserted,omitempty"`
	Severity           *Severity      `json:"severity,omitempty"`
	DurationMinutes    *int           `json:"duration_minutes,omitempty"`
	RootCause          *string        `json:"root_cause,omitempty"`
}

// ID は重複排除とエンリッチ結果の突き合わせに使う安定識別子
func (i *Incident) ID() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", i.SourceCompany, i.Title, i.StartTime.Unix())))
	return hex.EncodeToString(sum[:])[:16]
}

type FetchStatus string

const (
	FetchStatusSucceeded FetchStatus = "succeeded"
	FetchStatusPartial   FetchStatus = "partial"
	FetchStatusFailed    FetchStatus = "failed"
)

// ScrapeResult は取得元1社分の結果。failedの場合incidentsは空になる。
type ScrapeResult struct {
	CompanyName string      `json:"company_name"`
	Incidents   []Incident  `json:"incidents"`
	FetchStatus FetchStatus `json:"fetch_status"`
	ErrorDetail *string     `json:"error_detail,omitempty"`
}

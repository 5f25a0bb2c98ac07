package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pyama86/relscope/domain/entity"
)

// FetchHealth は取得元ごとの成否。レポート消費側が完全性を判断できるよう必ず全社ぶん載せる。
type FetchHealth struct {
	CompanyName   string             `json:"company_name"`
	FetchStatus   entity.FetchStatus `json:"fetch_status"`
	IncidentCount int                `json:"incident_count"`
	ErrorDetail   *string            `json:"error_detail,omitempty"`
}

// Artifact は再スクレイプなしで使い回せる成果物
type Artifact struct {
	GeneratedAt time.Time              `json:"generated_at"`
	FetchHealth []FetchHealth          `json:"fetch_health"`
	Analysis    *entity.AnalysisResult `json:"analysis"`
}

func Build(scrapeResults map[string]entity.ScrapeResult, analysis *entity.AnalysisResult) *Artifact {
	names := make([]string, 0, len(scrapeResults))
	for name := range scrapeResults {
		names = append(names, name)
	}
	sort.Strings(names)

	health := make([]FetchHealth, 0, len(names))
	for _, name := range names {
		result := scrapeResults[name]
		health = append(health, FetchHealth{
			CompanyName:   result.CompanyName,
			FetchStatus:   result.FetchStatus,
			IncidentCount: len(result.Incidents),
			ErrorDetail:   result.ErrorDetail,
		})
	}

	return &Artifact{
		GeneratedAt: time.Now(),
		FetchHealth: health,
		Analysis:    analysis,
	}
}

// WriteJSON は一時ファイル経由で書き出す。途中失敗で壊れた成果物を残さない。
func (a *Artifact) WriteJSON(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".relscope-report-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename report: %w", err)
	}
	return nil
}

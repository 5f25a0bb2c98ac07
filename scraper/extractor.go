package scraper

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pyama86/relscope/domain/entity"
	"golang.org/x/net/html"
)

// ErrStructuralMismatch はページは描画されたが期待するマークアップが無かったことを表す。
// 「インシデントが0件だった」とは区別する。
var ErrStructuralMismatch = errors.New("incident markup not found in page")

const (
	containerClass   = "incident-container"
	titleClass       = "incident-title"
	timeClass        = "incident-time"
	statusClass      = "incident-status"
	descriptionClass = "incident-description"
)

// Statuspageテンプレートが履歴0件の月に出す文言
const emptyHistoryMarker = "no incidents reported"

// 日付表記はページによって揺れるので順に試す
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Jan 2, 2006 15:04 MST",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
}

var durationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)lasted\s+(\d+)\s+(minute|hour|day)s?`),
	regexp.MustCompile(`(?i)duration[:\s]+(\d+)\s+(minute|hour|day)s?`),
	regexp.MustCompile(`(?i)(\d+)\s+(minute|hour|day)s?\s+of\s+(?:downtime|disruption)`),
}

type Extractor struct {
	sanitizer *bluemonday.Policy
}

func NewExtractor() *Extractor {
	return &Extractor{sanitizer: bluemonday.StrictPolicy()}
}

// Extract はレンダリング済みHTMLからインシデント一覧を取り出す。純粋関数。
// 戻り値はパース済みインシデント、読み飛ばした要素数、エラー。
// 1要素のパース失敗はページ全体を落とさず読み飛ばして数える。
func (e *Extractor) Extract(htmlContent, companyName string) ([]entity.Incident, int, error) {
	if companyName == "" {
		return nil, 0, fmt.Errorf("company name is required")
	}

	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse html: %w", err)
	}

	containers := findAllByClass(doc, containerClass)
	if len(containers) == 0 {
		if strings.Contains(strings.ToLower(htmlContent), emptyHistoryMarker) {
			return nil, 0, nil
		}
		return nil, 0, ErrStructuralMismatch
	}

	var incidents []entity.Incident
	skipped := 0
	seen := make(map[string]bool)
	for _, container := range containers {
		incident, err := e.parseIncident(container, companyName)
		if err != nil {
			skipped++
			slog.Warn("Skipping unparseable incident element",
				slog.String("company", companyName),
				slog.Any("error", err),
			)
			continue
		}
		// 同一ページ内・再スクレイプ間の重複は安定IDで排除する
		if seen[incident.ID()] {
			continue
		}
		seen[incident.ID()] = true
		incidents = append(incidents, *incident)
	}

	if len(incidents) == 0 {
		return nil, skipped, ErrStructuralMismatch
	}
	return incidents, skipped, nil
}

func (e *Extractor) parseIncident(container *html.Node, companyName string) (*entity.Incident, error) {
	title := nodeText(findByClass(container, titleClass))
	description := e.sanitizer.Sanitize(nodeText(findByClass(container, descriptionClass)))
	if title == "" {
		return nil, fmt.Errorf("element has no title")
	}

	incident := &entity.Incident{
		SourceCompany:  companyName,
		Title:          title,
		RawDescription: description,
		Status:         inferStatus(nodeText(findByClass(container, statusClass)) + " " + description),
	}

	start, ok := parseDate(nodeText(findByClass(container, timeClass)))
	if ok {
		incident.StartTime = start
	} else {
		// 日付が読めない場合はゼロ値+推定フラグで残す（決定的な出力を保つ）
		incident.StartInferred = true
	}

	if minutes, ok := extractDurationMinutes(description); ok {
		incident.DurationMinutes = &minutes
		if !incident.StartInferred {
			end := incident.StartTime.Add(time.Duration(minutes) * time.Minute)
			incident.EndTime = &end
		}
	}

	return incident, nil
}

func inferStatus(text string) entity.IncidentStatus {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "resolved"):
		return entity.IncidentStatusResolved
	case strings.Contains(lower, "monitoring"):
		return entity.IncidentStatusMonitoring
	case strings.Contains(lower, "investigating"):
		return entity.IncidentStatusInvestigating
	default:
		return entity.IncidentStatusUnknown
	}
}

func parseDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func extractDurationMinutes(description string) (int, bool) {
	for _, pattern := range durationPatterns {
		match := pattern.FindStringSubmatch(description)
		if match == nil {
			continue
		}
		value, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		switch strings.ToLower(match[2]) {
		case "minute":
			return value, true
		case "hour":
			return value * 60, true
		case "day":
			return value * 60 * 24, true
		}
	}
	return 0, false
}

// findByClass は最初に見つかった指定クラスの子孫ノードを返す
func findByClass(n *html.Node, class string) *html.Node {
	if n == nil {
		return nil
	}
	if hasClass(n, class) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func findAllByClass(n *html.Node, class string) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if hasClass(n, class) {
			found = append(found, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

package repository

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/pyama86/relscope/domain/entity"
)

const (
	// デフォルトのトークン制限（大規模コンテキストモデル向け）
	DefaultMaxTokens = 100000
	// 1インシデントあたりの平均トークン数の見積もり
	AverageTokensPerIncident = 120
)

// GetMaxTokens は環境変数またはデフォルト値からトークン制限を取得
func GetMaxTokens() int {
	if envMaxTokens := os.Getenv("MAX_TOKENS"); envMaxTokens != "" {
		if maxTokens, err := strconv.Atoi(envMaxTokens); err == nil && maxTokens > 0 {
			return maxTokens
		}
	}
	return DefaultMaxTokens
}

// トークン計算ユーティリティ
type TokenCalculator struct {
	encoder *tiktoken.Tiktoken
}

// 新しいトークン計算機を作成
func NewTokenCalculator() (*TokenCalculator, error) {
	encoder, err := tiktoken.EncodingForModel("gpt-4")
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding for GPT-4: %w", err)
	}

	return &TokenCalculator{
		encoder: encoder,
	}, nil
}

// テキストのトークン数を計算
func (tc *TokenCalculator) CountTokens(text string) int {
	if tc.encoder == nil {
		// フォールバック: 文字数 / 4 (おおよその見積もり)
		return len(text) / 4
	}

	tokens := tc.encoder.Encode(text, nil, nil)
	return len(tokens)
}

// インシデント1件をプロンプト用テキストに変換
func (tc *TokenCalculator) FormatIncident(inc entity.Incident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- id: %s\n", inc.ID())
	fmt.Fprintf(&b, "  title: %s\n", inc.Title)
	fmt.Fprintf(&b, "  start: %s\n", inc.StartTime.Format("2006-01-02 15:04"))
	if inc.EndTime != nil {
		fmt.Fprintf(&b, "  end: %s\n", inc.EndTime.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "  status: %s\n", inc.Status)
	if inc.DurationMinutes != nil {
		fmt.Fprintf(&b, "  duration_minutes: %d\n", *inc.DurationMinutes)
	}
	fmt.Fprintf(&b, "  description: %s\n", inc.RawDescription)
	return b.String()
}

// インシデントリストのトータルトークン数を計算
func (tc *TokenCalculator) CountIncidentsTokens(incidents []entity.Incident, basePrompt string) int {
	var allText strings.Builder
	allText.WriteString(basePrompt)
	for _, inc := range incidents {
		allText.WriteString(tc.FormatIncident(inc))
	}
	return tc.CountTokens(allText.String())
}

// SplitIncidents はトークン制限に収まるよう時系列順のままチャンクに分割する
func (tc *TokenCalculator) SplitIncidents(incidents []entity.Incident, basePrompt string, maxTokens int) [][]entity.Incident {
	baseTokens := tc.CountTokens(basePrompt)
	budget := maxTokens - baseTokens
	if budget <= 0 {
		budget = AverageTokensPerIncident
	}

	var chunks [][]entity.Incident
	var current []entity.Incident
	currentTokens := 0
	for _, inc := range incidents {
		t := tc.CountTokens(tc.FormatIncident(inc))
		if len(current) > 0 && currentTokens+t > budget {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, inc)
		currentTokens += t
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Songmu/retry"
	"github.com/go-playground/validator/v10"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/pyama86/relscope/domain/entity"
)

// ErrEnrichmentUnavailable はこの会社のエンリッチが使えないことを表す。
// 原因（資格情報・ネットワーク・スキーマ不一致）はログで区別し、契約上は同じ扱いにする。
var ErrEnrichmentUnavailable = fmt.Errorf("enrichment unavailable")

// 未設定時のプレースホルダ。実キー扱いはしない
const defaultAPIKey = "your-openai-api-key-here"

const defaultModel = "gpt-4o"

// ResolveAPIKey は明示指定、環境変数、組み込み値の優先順で解決する
func ResolveAPIKey(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}
	return defaultAPIKey
}

type AIRepository struct {
	client   *openai.Client
	model    string
	validate *validator.Validate
	// 1リクエスト分のLLM呼び出し。テストではスタブに差し替える
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewAIRepository は資格情報が無ければ(nil, nil)を返す。
// 呼び出し側はnilをエンリッチ無効として扱う。
func NewAIRepository(apiKey, model string) (*AIRepository, error) {
	key := ResolveAPIKey(apiKey)
	hasAzure := os.Getenv("AZURE_OPENAI_KEY") != "" && os.Getenv("AZURE_OPENAI_ENDPOINT") != ""
	if (key == "" || key == defaultAPIKey) && !hasAzure {
		return nil, nil
	}

	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := newOpenAIClient(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	repo := &AIRepository{
		client:   client,
		model:    model,
		validate: validator.New(),
	}
	repo.complete = repo.callOpenAIWithRetry
	return repo, nil
}

func newOpenAIClient(key string) (*openai.Client, error) {
	if os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return newAzureClient()
	}

	if key == "" || key == defaultAPIKey {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(key),
	}

	c := openai.NewClient(options...)
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}
	var azureOpenAIEndpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")

	var azureOpenAIAPIVersion = "2025-01-01-preview"

	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		azureOpenAIAPIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(azureOpenAIEndpoint, azureOpenAIAPIVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

// EnrichCompany は1社分のインシデントをLLMに渡して構造化出力を得る。
// トークン制限を超える場合は分割して部分結果を統合する。
func (h *AIRepository) EnrichCompany(ctx context.Context, req EnrichmentRequest) (*entity.CompanyEnrichment, error) {
	if len(req.Incidents) == 0 {
		return &entity.CompanyEnrichment{
			CompanyName: req.CompanyName,
			Summary:     fmt.Sprintf("No incidents found for %s in the analyzed timeframe.", req.CompanyName),
		}, nil
	}

	basePrompt := h.buildPrompt(req)

	tokenCalc, err := NewTokenCalculator()
	if err != nil {
		// フォールバック: 分割せず1リクエストで処理
		slog.Warn("Token calculator unavailable, sending single request", slog.Any("error", err))
		return h.enrichSingleChunk(ctx, req.CompanyName, basePrompt, req.Incidents, nil)
	}

	if tokenCalc.CountIncidentsTokens(req.Incidents, basePrompt) <= GetMaxTokens() {
		return h.enrichSingleChunk(ctx, req.CompanyName, basePrompt, req.Incidents, tokenCalc)
	}

	return h.enrichMultipleChunks(ctx, req.CompanyName, basePrompt, req.Incidents, tokenCalc)
}

func (h *AIRepository) buildPrompt(req EnrichmentRequest) string {
	var b strings.Builder
	b.WriteString(`## Task
You are an expert reliability analyst. Analyze the status-page incidents below and return structured insights.

For every incident assign a category, a severity, an estimated duration in minutes when the source does not state one, and a probable root cause.
Identify recurring key issues across the incidents and summarize the overall reliability picture.

## Output format
Respond with a single JSON object and nothing else:
{
  "incidents": [
    {"incident_id": "<id from the input>", "category": "...", "severity": "low|medium|high|critical", "duration_minutes": 0, "root_cause": "..."}
  ],
  "key_issues": [
    {"title": "...", "description": "...", "occurrences": 0}
  ],
  "categories": ["..."],
  "summary": "one paragraph"`)
	if req.IsTarget {
		b.WriteString(`,
  "comparative_summary": "one paragraph comparing the target company against the peer aggregates, including whose incident trend looks better"`)
	}
	b.WriteString("\n}\n")
	b.WriteString("Every incident_id from the input must appear exactly once in incidents.\n")

	if len(req.KnownCategories) > 0 {
		fmt.Fprintf(&b, "\n## Existing categories from peer analysis\nPrefer these category names, create new ones only when nothing fits: %s\n",
			strings.Join(req.KnownCategories, ", "))
	}
	if req.IsTarget && req.PeerContext != "" {
		fmt.Fprintf(&b, "\n## Peer aggregates for comparison\n%s\n", req.PeerContext)
	}

	fmt.Fprintf(&b, "\n## Incidents for %s\n", req.CompanyName)
	return b.String()
}

func (h *AIRepository) enrichSingleChunk(ctx context.Context, company, basePrompt string, incidents []entity.Incident, tokenCalc *TokenCalculator) (*entity.CompanyEnrichment, error) {
	if tokenCalc == nil {
		tokenCalc = &TokenCalculator{}
	}
	var incidentText strings.Builder
	for _, inc := range incidents {
		incidentText.WriteString(tokenCalc.FormatIncident(inc))
	}

	raw, err := h.complete(ctx, basePrompt+incidentText.String())
	if err != nil {
		return nil, h.classifyError(company, err)
	}
	return h.parseEnrichment(company, raw)
}

// 分割処理。各チャンクのインシデント判定を集め、サマリ系は統合リクエストで作り直す
func (h *AIRepository) enrichMultipleChunks(ctx context.Context, company, basePrompt string, incidents []entity.Incident, tokenCalc *TokenCalculator) (*entity.CompanyEnrichment, error) {
	chunks := tokenCalc.SplitIncidents(incidents, basePrompt, GetMaxTokens())
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no incidents to process", ErrEnrichmentUnavailable)
	}
	if len(chunks) == 1 {
		return h.enrichSingleChunk(ctx, company, basePrompt, chunks[0], tokenCalc)
	}

	merged := &entity.CompanyEnrichment{CompanyName: company}
	var partialSummaries []string
	for i, chunk := range chunks {
		chunkPrompt := fmt.Sprintf("%s\n## Part %d/%d of the incident list\n", basePrompt, i+1, len(chunks))
		partial, err := h.enrichSingleChunk(ctx, company, chunkPrompt, chunk, tokenCalc)
		if err != nil {
			return nil, fmt.Errorf("failed to process chunk %d: %w", i+1, err)
		}
		merged.Incidents = append(merged.Incidents, partial.Incidents...)
		merged.KeyIssues = append(merged.KeyIssues, partial.KeyIssues...)
		merged.Categories = mergeCategories(merged.Categories, partial.Categories)
		partialSummaries = append(partialSummaries, partial.Summary)
		if partial.ComparativeSummary != "" {
			merged.ComparativeSummary = partial.ComparativeSummary
		}
	}

	summary, err := h.mergeSummaries(ctx, partialSummaries)
	if err != nil {
		// 部分サマリの結合で代替する
		slog.Warn("Failed to merge partial summaries", slog.String("company", company), slog.Any("error", err))
		summary = strings.Join(partialSummaries, " ")
	}
	merged.Summary = summary
	return merged, nil
}

func (h *AIRepository) mergeSummaries(ctx context.Context, summaries []string) (string, error) {
	var b strings.Builder
	b.WriteString(`## Task
The following are partial reliability summaries of the same incident history.
Merge them into a single coherent paragraph without losing findings. Return only the paragraph.

`)
	for i, summary := range summaries {
		fmt.Fprintf(&b, "## Partial summary %d\n%s\n\n", i+1, summary)
	}
	return h.complete(ctx, b.String())
}

// parseEnrichment はLLM出力をスキーマ検証する。通らなければその会社のエンリッチは不採用。
func (h *AIRepository) parseEnrichment(company, raw string) (*entity.CompanyEnrichment, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var enrichment entity.CompanyEnrichment
	if err := json.Unmarshal([]byte(cleaned), &enrichment); err != nil {
		slog.Error("Enrichment response is not valid JSON", slog.String("company", company), slog.Any("error", err))
		return nil, fmt.Errorf("%w: malformed response: %v", ErrEnrichmentUnavailable, err)
	}

	validate := h.validate
	if validate == nil {
		validate = validator.New()
	}
	if err := validate.Struct(&enrichment); err != nil {
		slog.Error("Enrichment response failed schema validation", slog.String("company", company), slog.Any("error", err))
		return nil, fmt.Errorf("%w: schema validation failed: %v", ErrEnrichmentUnavailable, err)
	}

	enrichment.CompanyName = company
	return &enrichment, nil
}

// 失敗要因をログ上で区別する。外部契約はErrEnrichmentUnavailableに揃える
func (h *AIRepository) classifyError(company string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "invalid_api_key"):
		slog.Error("OpenAI credentials rejected", slog.String("company", company), slog.Any("error", err))
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		slog.Error("OpenAI rate limited", slog.String("company", company), slog.Any("error", err))
	default:
		slog.Error("OpenAI request failed", slog.String("company", company), slog.Any("error", err))
	}
	return fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
}

// 共通のリトライ機能付きOpenAI API呼び出し
func (h *AIRepository) callOpenAIWithRetry(ctx context.Context, prompt string) (string, error) {
	var result string
	err := retry.Retry(3, time.Second*3, func() error {
		resp, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: h.model,
		})
		if err != nil {
			return err
		}

		if len(resp.Choices) == 0 {
			return fmt.Errorf("no response from OpenAI")
		}

		result = resp.Choices[0].Message.Content
		return nil
	})

	return result, err
}

func mergeCategories(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c] = true
	}
	for _, c := range add {
		if !seen[c] {
			existing = append(existing, c)
			seen[c] = true
		}
	}
	return existing
}

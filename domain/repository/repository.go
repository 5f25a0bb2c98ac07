package repository

import (
	"context"

	"github.com/pyama86/relscope/domain/entity"
)

// Fetcher はレンダリング済みHTMLの取得
type Fetcher interface {
	FetchPage(ctx context.Context, url string) (string, error)
}

// EnrichmentRequest は1社分のエンリッチ依頼。
// ターゲット会社の場合のみPeerContextが入り、比較サマリを要求する。
type EnrichmentRequest struct {
	CompanyName     string
	Incidents       []entity.Incident
	KnownCategories []string
	PeerContext     string
	IsTarget        bool
}

type AIRepositorier interface {
	EnrichCompany(ctx context.Context, req EnrichmentRequest) (*entity.CompanyEnrichment, error)
}

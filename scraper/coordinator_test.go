package scraper_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/relscope/domain/entity"
	"github.com/pyama86/relscope/scraper"
)

// ------------------------
// Mock fetcher
// ------------------------
type mockFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (m *mockFetcher) FetchPage(_ context.Context, url string) (string, error) {
	if err, ok := m.errs[url]; ok {
		return "", err
	}
	page, ok := m.pages[url]
	if !ok {
		return "", fmt.Errorf("unexpected url: %s", url)
	}
	return page, nil
}

func incidentPage(entries ...[2]string) string {
	page := `<html><body><div class="layout-content">`
	for _, e := range entries {
		page += fmt.Sprintf(`<div class="incident-container">
<div class="incident-title">%s</div>
<div class="incident-time">%s</div>
<div class="incident-description">Resolved after a short disruption.</div>
</div>`, e[0], e[1])
	}
	page += `</div></body></html>`
	return page
}

func window(t *testing.T, from, to string) (time.Time, time.Time) {
	t.Helper()
	f, err := time.Parse("2006-01-02", from)
	require.NoError(t, err)
	e, err := time.Parse("2006-01-02", to)
	require.NoError(t, err)
	return f, e.Add(24*time.Hour - time.Second)
}

func TestRunAllReturnsResultForEveryCompany(t *testing.T) {
	fetcher := &mockFetcher{
		pages: map[string]string{
			"https://a.example": incidentPage([2]string{"API errors", "2024-02-01T10:00:00Z"}),
			"https://b.example": "<html><body><h1>redesigned page</h1></body></html>",
			"https://c.example": incidentPage([2]string{"Network blip", "2024-02-02T10:00:00Z"}),
		},
	}
	coordinator := scraper.NewCoordinator(fetcher, scraper.NewExtractor(), time.Second, 3)

	companies := []entity.Company{
		{Name: "A", StatusURL: "https://a.example"},
		{Name: "B", StatusURL: "https://b.example"},
		{Name: "C", StatusURL: "https://c.example"},
	}
	from, to := window(t, "2024-01-01", "2024-03-15")

	results, err := coordinator.RunAll(context.Background(), companies, from, to)
	require.NoError(t, err)
	require.Len(t, results, 3)

	degraded := 0
	for _, result := range results {
		if result.FetchStatus != entity.FetchStatusSucceeded {
			degraded++
		}
	}
	assert.Equal(t, 1, degraded)
	assert.Equal(t, entity.FetchStatusFailed, results["B"].FetchStatus)
	assert.Empty(t, results["B"].Incidents)
	require.NotNil(t, results["B"].ErrorDetail)
	assert.Equal(t, entity.FetchStatusSucceeded, results["A"].FetchStatus)
	assert.Equal(t, entity.FetchStatusSucceeded, results["C"].FetchStatus)
}

func TestRunAllFetchFailureDoesNotAffectOthers(t *testing.T) {
	fetcher := &mockFetcher{
		pages: map[string]string{
			"https://a.example": incidentPage([2]string{"API errors", "2024-02-01T10:00:00Z"}),
		},
		errs: map[string]error{
			"https://b.example": fmt.Errorf("connection refused"),
		},
	}
	coordinator := scraper.NewCoordinator(fetcher, scraper.NewExtractor(), time.Second, 2)

	companies := []entity.Company{
		{Name: "A", StatusURL: "https://a.example"},
		{Name: "B", StatusURL: "https://b.example"},
	}
	from, to := window(t, "2024-01-01", "2024-03-15")

	results, err := coordinator.RunAll(context.Background(), companies, from, to)
	require.NoError(t, err)
	assert.Equal(t, entity.FetchStatusSucceeded, results["A"].FetchStatus)
	assert.Len(t, results["A"].Incidents, 1)
	assert.Equal(t, entity.FetchStatusFailed, results["B"].FetchStatus)
}

func TestRunAllFiltersTimeframe(t *testing.T) {
	fetcher := &mockFetcher{
		pages: map[string]string{
			"https://a.example": incidentPage(
				[2]string{"Too early", "2023-12-01T00:00:00Z"},
				[2]string{"In range", "2024-02-01T00:00:00Z"},
				[2]string{"Too late", "2024-04-01T00:00:00Z"},
			),
		},
	}
	coordinator := scraper.NewCoordinator(fetcher, scraper.NewExtractor(), time.Second, 1)

	from, to := window(t, "2024-01-01", "2024-03-15")
	results, err := coordinator.RunAll(context.Background(), []entity.Company{{Name: "A", StatusURL: "https://a.example"}}, from, to)
	require.NoError(t, err)

	require.Len(t, results["A"].Incidents, 1)
	assert.Equal(t, "In range", results["A"].Incidents[0].Title)
}

func TestRunAllEmptyCompanyListIsConfigurationError(t *testing.T) {
	coordinator := scraper.NewCoordinator(&mockFetcher{}, scraper.NewExtractor(), time.Second, 1)

	_, err := coordinator.RunAll(context.Background(), nil, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, scraper.ErrNoCompanies)
}

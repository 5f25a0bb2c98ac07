package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWithRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	var gaps []time.Duration
	last := time.Now()

	html, err := fetchWithRetry(context.Background(), "https://example.com", 3, 10*time.Millisecond, time.Second, func() (string, error) {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		attempts++
		if attempts < 3 {
			return "", fmt.Errorf("navigation timeout")
		}
		return "<html>ok</html>", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", html)
	assert.Equal(t, 3, attempts)
	// 2回目以降の間隔は縮まない
	require.Len(t, gaps, 3)
	assert.GreaterOrEqual(t, gaps[2], gaps[1])
}

func TestFetchWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cause := fmt.Errorf("connection reset")

	_, err := fetchWithRetry(context.Background(), "https://example.com", 3, time.Millisecond, time.Second, func() (string, error) {
		attempts++
		return "", cause
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var fetchErr *FetchFailedError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 3, fetchErr.Attempts)
	assert.Equal(t, "https://example.com", fetchErr.URL)
	assert.ErrorIs(t, err, cause)
}

func TestFetchWithRetryBackoffDoubles(t *testing.T) {
	attempts := 0
	start := time.Now()

	_, err := fetchWithRetry(context.Background(), "https://example.com", 3, 20*time.Millisecond, time.Second, func() (string, error) {
		attempts++
		return "", fmt.Errorf("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	// 20ms + 40ms の待機を挟んでいるはず
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestFetchWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetchWithRetry(ctx, "https://example.com", 3, time.Millisecond, time.Second, func() (string, error) {
		t.Fatal("attempt must not run after cancellation")
		return "", nil
	})

	var fetchErr *FetchFailedError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, context.Canceled)
	// 1回も試行していないことがメッセージから分かる
	assert.Equal(t, 0, fetchErr.Attempts)
	assert.Contains(t, err.Error(), "before the first attempt")
}

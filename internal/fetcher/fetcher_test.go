package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"harvest/internal/acquire"

	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func linkPerBody(body []byte, page *url.URL) ([]acquire.Item, error) {
	if len(body) == 0 {
		return nil, nil
	}
	return []acquire.Item{{Text: string(body), URL: page.String()}}, nil
}

func noSleepPacer(count *atomic.Int64) *acquire.Pacer {
	return &acquire.Pacer{
		Min: 500 * time.Millisecond,
		Max: 2 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			count.Add(1)
			return nil
		},
	}
}

func TestAttemptSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://www.google.com/" {
			t.Errorf("missing referer header, got %q", r.Header.Get("Referer"))
		}
		if r.Header.Get("DNT") != "1" {
			t.Errorf("missing DNT header")
		}
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Write([]byte("payload"))
	}))
	defer server.Close()

	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(linkPerBody), Options{Pacer: noSleepPacer(&paced), Logger: quiet})

	out, err := f.Attempt(context.Background(), acquire.Target{Index: 1, Locator: server.URL + "/?page=1"})
	require.NoError(t, err)
	require.Equal(t, acquire.KindSuccess, out.Kind)
	require.Len(t, out.Items, 1)
	require.Equal(t, "payload", out.Items[0].Text)
	require.EqualValues(t, 1, paced.Load())
}

func TestAttemptServerErrorIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(linkPerBody), Options{Pacer: noSleepPacer(&paced), Logger: quiet})

	for i := 0; i < 3; i++ {
		_, err := f.Attempt(context.Background(), acquire.Target{Index: 1, Locator: server.URL})
		var te *acquire.TransportError
		require.ErrorAs(t, err, &te)
		require.False(t, acquire.IsFatal(err))
	}
	require.EqualValues(t, 3, paced.Load(), "jitter must be paid on every attempt")
}

func TestAttemptNotFoundIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(linkPerBody), Options{Pacer: noSleepPacer(&paced), Logger: quiet})
	_, err := f.Attempt(context.Background(), acquire.Target{Index: 1, Locator: server.URL})
	var te *acquire.TransportError
	require.ErrorAs(t, err, &te)
}

func TestAttemptEmptyExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(linkPerBody), Options{Pacer: noSleepPacer(&paced), Logger: quiet})
	out, err := f.Attempt(context.Background(), acquire.Target{Index: 4, Locator: server.URL})
	require.NoError(t, err)
	require.Equal(t, acquire.KindEmpty, out.Kind)
	require.Contains(t, out.Reason, server.URL)
}

func TestAttemptExtractionErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html"))
	}))
	defer server.Close()

	bad := errors.New("truncated document")
	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(func([]byte, *url.URL) ([]acquire.Item, error) {
		return nil, bad
	}), Options{Pacer: noSleepPacer(&paced), Logger: quiet})

	_, err := f.Attempt(context.Background(), acquire.Target{Index: 1, Locator: server.URL})
	var ee *ExtractError
	require.ErrorAs(t, err, &ee)
	require.ErrorIs(t, err, bad)
	require.False(t, acquire.IsFatal(err))
}

func TestAttemptInvalidURLIsFatal(t *testing.T) {
	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(linkPerBody), Options{Pacer: noSleepPacer(&paced), Logger: quiet})
	_, err := f.Attempt(context.Background(), acquire.Target{Index: 1, Locator: "not a url"})
	require.True(t, acquire.IsFatal(err))
	require.Zero(t, paced.Load())
}

func TestAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(linkPerBody), Options{
		Timeout: 50 * time.Millisecond,
		Pacer:   noSleepPacer(&paced),
		Logger:  quiet,
	})
	_, err := f.Attempt(context.Background(), acquire.Target{Index: 1, Locator: server.URL})
	var te *acquire.TransportError
	require.ErrorAs(t, err, &te)
}

func TestFetcherRetriedThroughRetrier(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	var paced atomic.Int64
	f := NewFetcher(ExtractorFunc(linkPerBody), Options{Pacer: noSleepPacer(&paced), Logger: quiet})
	r := &acquire.Retrier{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Sleep:      func(context.Context, time.Duration) error { return nil },
		Logger:     quiet,
	}
	out := r.Run(context.Background(), f, acquire.Target{Index: 1, Locator: server.URL})
	require.Equal(t, acquire.KindSuccess, out.Kind)
	require.Len(t, out.Attempts, 3)
	require.EqualValues(t, 3, paced.Load())
}

package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	blobmem "github.com/storepulse/appscraper/internal/blobstore/memory"
	"github.com/storepulse/appscraper/internal/scrape"
)

func newTestClient(cfg Config) *Client {
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	return New(cfg, zap.NewNop())
}

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	client := newTestClient(Config{})
	body, err := client.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(body))
}

func TestFetchSendsBrowserHeadersAndExtras(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(Config{UserAgents: []string{"test-agent/1.0"}})
	extra := http.Header{}
	extra.Set("X-Requested-With", "XMLHttpRequest")
	_, err := client.Fetch(context.Background(), srv.URL, extra)
	require.NoError(t, err)

	require.Equal(t, "test-agent/1.0", got.Get("User-Agent"))
	require.Contains(t, got.Get("Accept"), "text/html")
	require.Equal(t, "XMLHttpRequest", got.Get("X-Requested-With"))
}

func TestClientErrorFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	client := newTestClient(Config{MaxRetries: 3})
	_, err := client.Fetch(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var httpErr *scrape.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	require.True(t, scrape.IsNotFound(err))
	require.Equal(t, int32(1), hits.Load())
}

func TestServerErrorIsRetriedThenTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(Config{MaxRetries: 2})
	_, err := client.Fetch(context.Background(), srv.URL, nil)
	require.Error(t, err)

	var fetchErr *scrape.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, int32(3), hits.Load())

	var httpErr *scrape.HTTPError
	require.True(t, errors.As(fetchErr.Err, &httpErr))
	require.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestServerErrorRecoversOnRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	client := newTestClient(Config{MaxRetries: 2})
	body, err := client.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "recovered", string(body))
	require.Equal(t, int32(2), hits.Load())
}

func TestRetryBackoffGrowsExponentially(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// Waits are base*2^attempt: 20ms before the first retry, 40ms before
	// the second.
	client := newTestClient(Config{MaxRetries: 2, BackoffBase: 10 * time.Millisecond})
	start := time.Now()
	_, err := client.Fetch(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDelaySpacesConsecutiveFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(Config{Delay: 60 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	_, err := client.Fetch(ctx, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Fetch(ctx, srv.URL, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestConcurrencyCeilingIsEnforced(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := newTestClient(Config{MaxConcurrency: 2})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Fetch(context.Background(), srv.URL, nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, peak, 2)
}

func TestSuccessfulFetchIsArchived(t *testing.T) {
	body := []byte("<html>archived</html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	archive := blobmem.NewStore()
	client := newTestClient(Config{Archive: archive, ArchivePrefix: "raw"})
	_, err := client.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	sum := sha256.Sum256(body)
	stored, ok := archive.Object("raw/" + hex.EncodeToString(sum[:]) + ".html")
	require.True(t, ok)
	require.Equal(t, body, stored)
}

func TestFetchHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("slow"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := newTestClient(Config{})
	_, err := client.Fetch(ctx, srv.URL, nil)
	require.Error(t, err)
}

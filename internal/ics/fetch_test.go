package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOneUsesETagCache(t *testing.T) {
	var mode atomic.Value
	mode.Store("ok")
	var sawConditional atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch mode.Load().(string) {
		case "ok":
			if r.Header.Get("If-None-Match") == `"v1"` {
				sawConditional.Store(true)
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(sampleFeed))
		case "fail":
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), 0)
	src := Source{ID: "work", URL: srv.URL + "/private/basic.ics"}
	ctx := context.Background()

	first, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, sampleFeed, string(first.Body))

	second, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, sawConditional.Load())
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	mode.Store("fail")
	third, err := f.FetchOne(ctx, src)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	assert.Equal(t, first.Body, third.Body)
}

func TestFetchOneFailureWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFetcher("", 0)
	_, err := f.FetchOne(context.Background(), Source{ID: "work", URL: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFetchOneNotModifiedWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	_, err := NewFetcher("", 0).FetchOne(context.Background(), Source{ID: "x", URL: srv.URL})
	assert.ErrorIs(t, err, ErrNotModifiedNoCache)
}

func TestFetchOneNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewFetcher(t.TempDir(), 0).FetchOne(context.Background(), Source{ID: "gone", URL: url})
	assert.Error(t, err)
}

func TestFetchOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.ics")
	require.NoError(t, os.WriteFile(path, []byte(sampleFeed), 0o600))

	res, err := NewFetcher("", 0).FetchOne(context.Background(), Source{ID: "local", URL: "file://" + path})
	require.NoError(t, err)
	assert.Equal(t, sampleFeed, string(res.Body))

	_, err = NewFetcher("", 0).FetchOne(context.Background(), Source{ID: "local", URL: "file://" + path + ".missing"})
	assert.Error(t, err)
}

func TestFetchOneRejectsBadSources(t *testing.T) {
	f := NewFetcher("", 0)
	_, err := f.FetchOne(context.Background(), Source{ID: "empty"})
	assert.Error(t, err)

	_, err = f.FetchOne(context.Background(), Source{ID: "ftp", URL: "ftp://example.com/cal.ics"})
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.google.com/...(redacted)",
		redactURL("https://calendar.google.com/calendar/ical/me%40example.com/private-abc/basic.ics"))
	assert.Equal(t, "file://...(redacted)", redactURL("file:///home/me/cal.ics"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}

func TestSaveCacheReadersNeverSeePartialBody(t *testing.T) {
	dir := t.TempDir()
	small := []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	large := bytes.Repeat([]byte("X"), 1<<20)
	require.NoError(t, saveCache(dir, cacheEntry{ETag: `"a"`}, small))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			body := small
			if i%2 == 0 {
				body = large
			}
			assert.NoError(t, saveCache(dir, cacheEntry{ETag: `"b"`}, body))
		}
	}()

	for i := 0; i < 200; i++ {
		got, err := loadCacheBody(dir)
		require.NoError(t, err)
		if !bytes.Equal(got, small) && !bytes.Equal(got, large) {
			close(stop)
			wg.Wait()
			t.Fatalf("read partial cache body of %d bytes", len(got))
		}
	}
	close(stop)
	wg.Wait()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"body.ics", "meta.json"}, names)
}

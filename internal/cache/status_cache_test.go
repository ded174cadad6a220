package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusCacheRoundTrip(t *testing.T) {
	statusCache := NewStatusCache(Config{TTL: time.Minute})
	payload := json.RawMessage(`{"job_id":"job-1","status":"completed"}`)

	if _, ok := statusCache.Get("job-1"); ok {
		t.Fatal("cache must start empty")
	}

	statusCache.Set("job-1", payload)
	cached, ok := statusCache.Get("job-1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(cached) != string(payload) {
		t.Fatalf("unexpected cached payload: %s", cached)
	}
}

func TestStatusCacheExpiresEntries(t *testing.T) {
	statusCache := NewStatusCache(Config{TTL: 10 * time.Millisecond})
	statusCache.Set("job-1", json.RawMessage(`{}`))

	time.Sleep(20 * time.Millisecond)
	if _, ok := statusCache.Get("job-1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestStatusCacheEvictsOldestAtCapacity(t *testing.T) {
	statusCache := NewStatusCache(Config{TTL: time.Minute, MaxEntries: 2})

	statusCache.Set("job-1", json.RawMessage(`{"n":1}`))
	time.Sleep(time.Millisecond)
	statusCache.Set("job-2", json.RawMessage(`{"n":2}`))
	time.Sleep(time.Millisecond)
	statusCache.Set("job-3", json.RawMessage(`{"n":3}`))

	if _, ok := statusCache.Get("job-1"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok := statusCache.Get("job-3"); !ok {
		t.Fatal("newest entry should survive eviction")
	}
}

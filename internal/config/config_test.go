package config

import "testing"

func TestParseKeyMap(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{
			name: "empty",
			raw:  "",
			want: map[string]string{},
		},
		{
			name: "single pair",
			raw:  "tok-1:partner-a",
			want: map[string]string{"tok-1": "partner-a"},
		},
		{
			name: "multiple pairs with spaces",
			raw:  " tok-1:partner-a , tok-2:partner-b ",
			want: map[string]string{"tok-1": "partner-a", "tok-2": "partner-b"},
		},
		{
			name: "malformed entries dropped",
			raw:  "tok-1:partner-a,no-colon,:missing-token,missing-partner:",
			want: map[string]string{"tok-1": "partner-a"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseKeyMap(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d entries, got %d", len(tc.want), len(got))
			}
			for token, partner := range tc.want {
				if got[token] != partner {
					t.Fatalf("expected %s -> %s, got %s", token, partner, got[token])
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("unexpected default port %s", cfg.Port)
	}
	if cfg.WebhookMaxAttempts != 3 {
		t.Fatalf("unexpected webhook attempts %d", cfg.WebhookMaxAttempts)
	}
	if cfg.RedisStream != "partner_jobs" {
		t.Fatalf("unexpected stream %s", cfg.RedisStream)
	}
	if !cfg.WorkerEnabled {
		t.Fatal("worker should be enabled by default")
	}
}

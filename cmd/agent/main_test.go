package main

import (
	"testing"

	"github.com/connwatchhq/agent/internal/config"
)

func TestBuildPushSinksEmptyByDefault(t *testing.T) {
	if sinks := buildPushSinks(config.Defaults()); len(sinks) != 0 {
		t.Fatalf("got %d sinks, want none", len(sinks))
	}
}

func TestBuildPushSinksSelection(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*config.Config)
		wantNames []string
	}{
		{
			name: "webhook only",
			mutate: func(c *config.Config) {
				c.Webhook.URL = "https://collector.example.com/ingest"
			},
			wantNames: []string{"webhook"},
		},
		{
			name: "mqtt only",
			mutate: func(c *config.Config) {
				c.MQTT.Enabled = true
			},
			wantNames: []string{"mqtt"},
		},
		{
			name: "both",
			mutate: func(c *config.Config) {
				c.Webhook.URL = "https://collector.example.com/ingest"
				c.MQTT.Enabled = true
			},
			wantNames: []string{"webhook", "mqtt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(&cfg)
			sinks := buildPushSinks(cfg)
			if len(sinks) != len(tt.wantNames) {
				t.Fatalf("got %d sinks, want %d", len(sinks), len(tt.wantNames))
			}
			for i, want := range tt.wantNames {
				if got := sinks[i].Name(); got != want {
					t.Errorf("sink[%d] = %q, want %q", i, got, want)
				}
			}
		})
	}
}

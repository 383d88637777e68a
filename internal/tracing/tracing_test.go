package tracing

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/chatpilot/internal/config"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TelemetryConfig
		wantErr bool
	}{
		{"disabled", config.TelemetryConfig{}, false},
		{"no endpoint", config.TelemetryConfig{Enabled: true}, true},
		{"bad protocol", config.TelemetryConfig{Enabled: true, Endpoint: "localhost:4317", Protocol: "carrier-pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if shutdown == nil {
				t.Fatal("nil shutdown func")
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}
}

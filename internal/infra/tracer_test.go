package infra

import (
	"context"
	"testing"

	"schema-migrator/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), &config.Config{OtelEnabled: false})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if tp != nil {
		t.Error("expected nil provider when tracing is disabled")
	}
}

func TestResourceAttrs(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{config.DriverMySQL, "mysql"},
		{config.DriverPostgres, "postgresql"},
		{config.DriverSQLite, "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			attrs := resourceAttrs(&config.Config{OtelServiceName: "schema-migrator", DatabaseDriver: tt.driver})

			values := make(map[string]string, len(attrs))
			for _, kv := range attrs {
				values[string(kv.Key)] = kv.Value.Emit()
			}
			if values["service.name"] != "schema-migrator" {
				t.Errorf("unexpected service.name: %q", values["service.name"])
			}
			if values["db.system"] != tt.want {
				t.Errorf("want db.system %q, got %q", tt.want, values["db.system"])
			}
		})
	}
}

package telemetry_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	"gotest.tools/v3/assert"

	"github.com/leengari/recordstore/internal/telemetry"
)

func TestSetupLoggerConsoleOnly(t *testing.T) {
	logger, cleanup := telemetry.SetupLogger(telemetry.Options{})
	defer cleanup()
	assert.Assert(t, logger != nil)
}

func TestNewWALMetricsRecordsWithoutError(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("recordstore-test")
	m, err := telemetry.NewWALMetrics(meter, "wal-instance-1")
	assert.NilError(t, err)

	// Recording against a no-op meter must not panic even though no
	// exporter is attached.
	m.RecordBlockFlush(context.Background(), "wal-instance-1", 4090, 4096)
}

func TestNilWALMetricsRecordIsNoop(t *testing.T) {
	var m *telemetry.WALMetrics
	m.RecordBlockFlush(context.Background(), "x", 1, 1)
}

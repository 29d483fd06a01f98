package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildFluxFilters(t *testing.T) {
	e := &Exporter{bucket: "audit", limit: 1000}

	q := e.buildFlux("zone1", exportTypes["irrigation"], 24*time.Hour)
	assert.Contains(t, q, `from(bucket: "audit")`)
	assert.Contains(t, q, "range(start: -1440m)")
	assert.Contains(t, q, `r.zone == "zone1"`)
	assert.Contains(t, q, `r.event_type =~ /^irrigation\./`)

	// No zone and no type: only the measurement filter remains.
	q = e.buildFlux("", "", time.Hour)
	assert.NotContains(t, q, "r.zone")
	assert.NotContains(t, q, "event_type")
}

func TestExportRejectsUnknownDataType(t *testing.T) {
	e := &Exporter{bucket: "audit"}

	_, err := e.Export(context.Background(), "zone1", "secrets", 24*time.Hour)
	assert.ErrorContains(t, err, "unknown data_type")
}

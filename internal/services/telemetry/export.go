package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// Exporter reads the audit log back out of Influx for the export operation
// and the HTTP export endpoint.
type Exporter struct {
	influx influxdb2.Client
	org    string
	bucket string
	limit  int
}

func NewExporter(influx influxdb2.Client, org, bucket string) *Exporter {
	return &Exporter{influx: influx, org: org, bucket: bucket, limit: 1000}
}

// exportTypes maps the external data_type names onto event-type prefixes in
// the audit log. Empty and "all" select everything.
var exportTypes = map[string]string{
	"":           "",
	"all":        "",
	"phases":     `phase\.`,
	"irrigation": `irrigation\.`,
	"safety":     `safety\.`,
	"learning":   `learning\.`,
	"system":     `system\.`,
}

func (e *Exporter) buildFlux(zone, typePrefix string, since time.Duration) string {
	zoneFilter := ""
	if zone != "" {
		zoneFilter = fmt.Sprintf(`  |> filter(fn: (r) => r.zone == %q)`+"\n", zone)
	}
	typeFilter := ""
	if typePrefix != "" {
		typeFilter = fmt.Sprintf(`  |> filter(fn: (r) => r.event_type =~ /^%s/)`+"\n", typePrefix)
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == "system_event")
%s%s  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, e.bucket, int(since.Minutes()), zoneFilter, typeFilter, e.limit)
}

// Export returns audit rows for the window, newest first. One row per
// record: time, event type, zone, field name and value.
func (e *Exporter) Export(ctx context.Context, zone, dataType string, since time.Duration) ([]map[string]any, error) {
	typePrefix, ok := exportTypes[dataType]
	if !ok {
		return nil, fmt.Errorf("unknown data_type %q", dataType)
	}
	api := e.influx.QueryAPI(e.org)
	res, err := api.Query(ctx, e.buildFlux(zone, typePrefix, since))
	if err != nil {
		return nil, fmt.Errorf("export query: %w", err)
	}
	defer res.Close()

	out := make([]map[string]any, 0, 64)
	for res.Next() {
		rec := res.Record()
		row := map[string]any{
			"time":       rec.Time().UTC().Format(time.RFC3339),
			"event_type": rec.ValueByKey("event_type"),
			"field":      rec.Field(),
			"value":      rec.Value(),
		}
		if z := rec.ValueByKey("zone"); z != nil {
			row["zone"] = z
		}
		out = append(out, row)
	}
	if res.Err() != nil {
		return out, fmt.Errorf("export iterate: %w", res.Err())
	}
	return out, nil
}

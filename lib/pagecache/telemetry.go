package pagecache

import (
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func metricAttrs(dir string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("namespace", filepath.Base(dir)))
}

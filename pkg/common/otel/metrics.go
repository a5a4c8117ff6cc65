package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// GetMeterProvider returns the registered global meter provider. It is the
// provider installed by InitTelemetry, or a no-op provider before that.
func GetMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

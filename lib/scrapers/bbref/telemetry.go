package bbref

import (
	"nbagames/lib/restyutil"
	"nbagames/lib/telemetry"
)

var tracer = telemetry.Tracer("nbagames.lib.scrapers.bbref")
var meter = telemetry.Meter("nbagames.lib.scrapers.bbref")

var attemptCounter, _ = meter.Int64Counter("fetch.attempts")
var failureCounter, _ = meter.Int64Counter("fetch.failures")

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput sets where renderers created afterwards dump
// request/response pairs when debug logging is on.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

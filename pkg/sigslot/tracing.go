package sigslot

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const runtimeTracerName = "sigflow.runtime"

const (
	spanSignalEmit = "signal.emit"
	spanSlotInvoke = "slot.invoke"
)

func runtimeTracer() trace.Tracer {
	return otel.Tracer(runtimeTracerName)
}

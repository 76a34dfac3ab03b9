package ctxutil

import (
	"context"
	"testing"
	"time"
)

func TestDetachKeepsTraceDataButDropsCancellation(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	parent = WithTraceData(parent, &TraceData{TraceID: "t-1", RequestID: "r-1"})
	cancel()

	detached := Detach(parent)
	if detached.Err() != nil {
		t.Fatalf("detached context must not inherit cancellation: %v", detached.Err())
	}
	td := GetTraceData(detached)
	if td == nil || td.TraceID != "t-1" || td.RequestID != "r-1" {
		t.Fatalf("trace data not carried over: %+v", td)
	}

	fields := LogFields(detached)
	if len(fields) != 4 || fields[1] != "t-1" || fields[3] != "r-1" {
		t.Fatalf("LogFields: got=%v", fields)
	}
}

func TestNilContextHelpers(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	if GetTraceData(nil) != nil {
		t.Fatalf("GetTraceData(nil) should be nil")
	}
	//nolint:staticcheck
	if Default(nil) == nil {
		t.Fatalf("Default(nil) should return background")
	}
	if LogFields(context.Background()) != nil {
		t.Fatalf("LogFields without trace data should be nil")
	}
}

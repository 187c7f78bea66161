package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.SessionsOpen == nil {
		t.Error("SessionsOpen metric is nil")
	}
	if m.BytesSent == nil {
		t.Error("BytesSent metric is nil")
	}
}

func TestRecordSessionOpenClose(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordSessionOpen("initiator")
	m.RecordSessionOpen("responder")

	open := testutil.ToFloat64(m.SessionsOpen)
	if open != 2 {
		t.Errorf("SessionsOpen = %v, want 2", open)
	}

	m.RecordSessionClose("peer_closed", 12.5)

	open = testutil.ToFloat64(m.SessionsOpen)
	if open != 1 {
		t.Errorf("SessionsOpen after close = %v, want 1", open)
	}
}

func TestRecordHandshakeErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordHandshakeError("signature_invalid")
	m.RecordHandshakeError("signature_invalid")
	m.RecordHandshakeError("timeout")

	if got := testutil.ToFloat64(m.HandshakeErrors.WithLabelValues("signature_invalid")); got != 2 {
		t.Errorf("HandshakeErrors[signature_invalid] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HandshakeErrors.WithLabelValues("timeout")); got != 1 {
		t.Errorf("HandshakeErrors[timeout] = %v, want 1", got)
	}
}

func TestRecordBytesSentReceived(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordBytesSent("initiator", 100)
	m.RecordBytesSent("initiator", 50)
	m.RecordBytesReceived("responder", 75)

	if got := testutil.ToFloat64(m.BytesSent.WithLabelValues("initiator")); got != 150 {
		t.Errorf("BytesSent[initiator] = %v, want 150", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived.WithLabelValues("responder")); got != 75 {
		t.Errorf("BytesReceived[responder] = %v, want 75", got)
	}
}

func TestRecordIVExhaustion(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordIVExhaustion("send")

	if got := testutil.ToFloat64(m.IVExhaustions.WithLabelValues("send")); got != 1 {
		t.Errorf("IVExhaustions[send] = %v, want 1", got)
	}
}

func TestRecordRedial(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordRedialAttempt()
	m.RecordRedialAttempt()
	m.RecordRedialSuccess()

	if got := testutil.ToFloat64(m.RedialAttempts); got != 2 {
		t.Errorf("RedialAttempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RedialSuccess); got != 1 {
		t.Errorf("RedialSuccess = %v, want 1", got)
	}
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Fatal("Default() returned different instances across calls")
	}
}

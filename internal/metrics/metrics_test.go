package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRecordRequest(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("GET", 200, 100*time.Millisecond)
	c.RecordRequest("GET", 200, 200*time.Millisecond)
	c.RecordRequest("POST", 500, 50*time.Millisecond)

	snap := c.Snapshot()

	if snap.RequestsTotal["GET|200"] != 2 {
		t.Errorf("expected 2 GET 200 requests, got %d", snap.RequestsTotal["GET|200"])
	}

	if snap.RequestsTotal["POST|500"] != 1 {
		t.Errorf("expected 1 POST 500 request, got %d", snap.RequestsTotal["POST|500"])
	}
}

func TestCollectorGuestCallHistogram(t *testing.T) {
	c := NewCollector()

	c.RecordGuestCall("app", 3*time.Millisecond)
	c.RecordGuestCall("app", 30*time.Millisecond)
	c.RecordGuestCall("app", 300*time.Millisecond)

	snap := c.Snapshot()

	hd := snap.CallDurations["app"]
	if hd == nil {
		t.Fatal("expected histogram data for app")
	}
	if hd.Count != 3 {
		t.Errorf("expected 3 duration entries, got %d", hd.Count)
	}
	if hd.Buckets[0.005] != 1 {
		t.Errorf("expected 1 entry in the 5ms bucket, got %d", hd.Buckets[0.005])
	}
	if hd.Buckets[0.5] != 3 {
		t.Errorf("expected 3 entries in the 500ms bucket, got %d", hd.Buckets[0.5])
	}
}

func TestCollectorGuestErrors(t *testing.T) {
	c := NewCollector()

	c.RecordGuestError("app_raised")
	c.RecordGuestError("app_raised")
	c.RecordGuestError("protocol")

	snap := c.Snapshot()

	if snap.GuestErrors["app_raised"] != 2 {
		t.Errorf("expected 2 app_raised errors, got %d", snap.GuestErrors["app_raised"])
	}
	if snap.GuestErrors["protocol"] != 1 {
		t.Errorf("expected 1 protocol error, got %d", snap.GuestErrors["protocol"])
	}
}

func TestCollectorReloads(t *testing.T) {
	c := NewCollector()

	c.RecordReload(true)
	c.RecordReload(true)
	c.RecordReload(false)

	snap := c.Snapshot()

	if snap.ReloadsTotal["success"] != 2 {
		t.Errorf("expected 2 successful reloads, got %d", snap.ReloadsTotal["success"])
	}
	if snap.ReloadsTotal["failure"] != 1 {
		t.Errorf("expected 1 failed reload, got %d", snap.ReloadsTotal["failure"])
	}
}

func TestWritePrometheus(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("GET", 200, 50*time.Millisecond)
	c.RecordGuestCall("app", 50*time.Millisecond)
	c.RecordGuestError("load")
	c.RecordReload(true)
	c.RecordFileBody()

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body := w.Body.String()

	for _, want := range []string{
		"rwf_requests_total",
		"rwf_guest_call_duration_seconds_bucket",
		"rwf_guest_errors_total",
		"rwf_app_reloads_total",
		"rwf_file_responses_total",
		"rwf_active_guest_calls",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s in exposition", want)
		}
	}

	if !strings.Contains(body, `rwf_requests_total{method="GET",status="200"} 1`) {
		t.Error("missing labeled request counter")
	}

	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type: %s", ct)
	}
}

func TestCollectorActiveCalls(t *testing.T) {
	c := NewCollector()

	c.RecordActiveCall(1)
	c.RecordActiveCall(1)
	c.RecordActiveCall(-1)

	snap := c.Snapshot()
	if snap.ActiveCalls != 1 {
		t.Errorf("expected 1 active call, got %d", snap.ActiveCalls)
	}
}

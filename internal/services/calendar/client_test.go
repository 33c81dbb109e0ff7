package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(time.Duration) {}

func newTestClient(t *testing.T, url string, attempts int) *Client {
	t.Helper()
	return NewClient(Config{BaseURL: url, RetryAttempts: attempts}, nil, WithSleeper(noSleep))
}

func TestSubmitSendsQueryParams(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"status":"success","message":"applied"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 1)
	result, err := client.Submit(context.Background(), Command{
		Action:     ActionNoCrew,
		Date:       "20260115",
		ShiftStart: "1800",
		ShiftEnd:   "0600",
		Squad:      42,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Status != "success" {
		t.Fatalf("status = %q", result.Status)
	}
	for _, want := range []string{"action=noCrew", "date=20260115", "shift_start=1800", "shift_end=0600", "squad=42", "preview=false"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestSubmitRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	if _, err := client.Submit(context.Background(), Command{
		Action: ActionAddShift, Date: "20260115", ShiftStart: "0600", ShiftEnd: "1800", Squad: 35,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestSubmitDoesNotRetryValidationErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown squad", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 3)
	if _, err := client.Submit(context.Background(), Command{
		Action: ActionNoCrew, Date: "20260115", ShiftStart: "0600", ShiftEnd: "1800", Squad: 99,
	}); err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestSubmitRejectsMalformedCommands(t *testing.T) {
	client := newTestClient(t, "http://localhost:0", 1)
	tests := []struct {
		name string
		cmd  Command
	}{
		{"bad action", Command{Action: "deleteEverything", Date: "20260115", ShiftStart: "0600", ShiftEnd: "1800", Squad: 34}},
		{"bad date", Command{Action: ActionNoCrew, Date: "Jan 15", ShiftStart: "0600", ShiftEnd: "1800", Squad: 34}},
		{"bad time", Command{Action: ActionNoCrew, Date: "20260115", ShiftStart: "6am", ShiftEnd: "1800", Squad: 34}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.Submit(context.Background(), tt.cmd); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestScheduleReturnsSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("action"); got != "get_schedule_day" {
			t.Errorf("action = %q", got)
		}
		if got := r.URL.Query().Get("squad"); got != "54" {
			t.Errorf("squad = %q", got)
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"shifts":[{"squad":54,"start":"0600"}]}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 1)
	snapshot, err := client.Schedule(context.Background(), "20260115", 54)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !strings.Contains(string(snapshot), "shifts") {
		t.Fatalf("snapshot = %s", snapshot)
	}
}

func TestScheduleRejectsBadDate(t *testing.T) {
	client := newTestClient(t, "http://localhost:0", 1)
	if _, err := client.Schedule(context.Background(), "tomorrow", 0); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSubmitPlainTextResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 1)
	result, err := client.Submit(context.Background(), Command{
		Action: ActionObliterateShift, Date: "20260115", ShiftStart: "0600", ShiftEnd: "1800", Squad: 43,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Status != "success" || result.Message != "OK" {
		t.Fatalf("result = %+v", result)
	}
}

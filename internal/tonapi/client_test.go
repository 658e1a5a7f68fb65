package tonapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tonscope/lambo-indexer/pkg/models"
)

const testPool = "0:031053133270be82ee6fd94d1963c0186868403a4f537040a0d533aab805b7af"

func TestListPoolTransactions_RequestShape(t *testing.T) {
	var gotAuth, gotLimit, gotBefore string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotLimit = r.URL.Query().Get("limit")
		gotBefore = r.URL.Query().Get("before_lt")
		fmt.Fprint(w, `{"transactions":[{"hash":"h1","lt":120,"utime":1700000100},{"hash":"h2","lt":110,"utime":1700000050}]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", 1000)
	txs, err := client.ListPoolTransactions(context.Background(), testPool, 500)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Expected bearer credential. Got: %q", gotAuth)
	}
	if gotLimit != "1000" {
		t.Errorf("Expected limit=1000. Got: %q", gotLimit)
	}
	if gotBefore != "500" {
		t.Errorf("Expected before_lt=500. Got: %q", gotBefore)
	}
	if len(txs) != 2 || txs[0].LT != 120 || txs[1].Hash != "h2" {
		t.Errorf("Unexpected page decode: %+v", txs)
	}
}

func TestListPoolTransactions_FirstPageHasNoCursor(t *testing.T) {
	var hasBefore bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBefore = r.URL.Query().Has("before_lt")
		fmt.Fprint(w, `{"transactions":[]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 1000)
	if _, err := client.ListPoolTransactions(context.Background(), testPool, 0); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if hasBefore {
		t.Error("First page must not carry a before_lt cursor")
	}
}

func TestGetJSON_RetriesOnceAfter429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"event_id":"e1","timestamp":1700000100,"actions":[]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 1000)
	event, err := client.GetEvent(context.Background(), "h1")
	if err != nil {
		t.Fatalf("Expected retry to succeed after 429. Got: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected exactly 2 calls. Got: %d", calls)
	}
	if event.EventID != "e1" {
		t.Errorf("Unexpected event decode: %+v", event)
	}
}

func TestGetJSON_UpstreamErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "gateway exploded")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 1000)
	_, err := client.GetEvent(context.Background(), "h1")

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("Expected UpstreamError. Got: %v", err)
	}
	if upstream.StatusCode != http.StatusBadGateway || upstream.Body != "gateway exploded" {
		t.Errorf("Unexpected UpstreamError contents: %+v", upstream)
	}
}

func TestGetPriceChart_Decode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("token") != "ton" || q.Get("currency") != "usd" || q.Get("points_count") != "10" {
			t.Errorf("Unexpected chart query: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"points":[[1700000000,6.0],[1700000060,6.1]]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 1000)
	chart, err := client.GetPriceChart(context.Background(), "ton", "usd", 1699999700, 1700000300, 10)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chart.Points) != 2 || chart.Points[0][1] != 6.0 {
		t.Errorf("Unexpected chart decode: %+v", chart.Points)
	}
}

func TestStreamTransactions_ParsesDataLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Expected event-stream accept header. Got: %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": comment line\n")
		fmt.Fprint(w, "data: heartbeat\n")
		fmt.Fprint(w, "data: {\"event_id\":\"e1\",\"lt\":100,\"timestamp\":1700000100,\"account_id\":\""+testPool+"\"}\n")
		fmt.Fprint(w, "data: not-json\n")
		fmt.Fprint(w, "data: {\"event_id\":\"e2\",\"lt\":105,\"timestamp\":1700000200,\"account_id\":\""+testPool+"\"}\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 1000)
	var connectedCalls int
	var got []models.StreamEvent
	err := client.StreamTransactions(context.Background(), testPool,
		func() { connectedCalls++ },
		func(ev models.StreamEvent) error {
			got = append(got, ev)
			return nil
		})
	if err == nil {
		t.Fatal("Expected an error when the upstream closes the stream")
	}
	if connectedCalls != 1 {
		t.Errorf("Expected one connected callback. Got: %d", connectedCalls)
	}
	if len(got) != 2 || got[0].EventID != "e1" || got[1].LT != 105 {
		t.Errorf("Unexpected stream events: %+v", got)
	}
}

func TestStreamTransactions_Non200IsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 1000)
	err := client.StreamTransactions(context.Background(), testPool, nil,
		func(models.StreamEvent) error { return nil })

	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 UpstreamError. Got: %v", err)
	}
}

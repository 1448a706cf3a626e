package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMessagesTotal(t *testing.T) {
	r := New()
	r.MessagesTotal.WithLabelValues("ingest_inode").Inc()
	r.MessagesTotal.WithLabelValues("ingest_inode").Inc()
	r.MessagesTotal.WithLabelValues("embed_inode").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `insight_worker_messages_total{routing_key="ingest_inode"} 2`) {
		t.Errorf("missing ingest_inode count, got:\n%s", body)
	}
	if !strings.Contains(body, `insight_worker_messages_total{routing_key="embed_inode"} 1`) {
		t.Errorf("missing embed_inode count, got:\n%s", body)
	}
}

func TestMessageFailures(t *testing.T) {
	r := New()
	r.MessageFailures.WithLabelValues("move_inode").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `insight_worker_message_failures_total{routing_key="move_inode"} 1`) {
		t.Error("missing message failure counter")
	}
}

func TestStageDuration(t *testing.T) {
	r := New()
	r.StageDuration.WithLabelValues("index_inode").Observe(0.2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "insight_worker_stage_duration_seconds_bucket") {
		t.Errorf("missing stage duration buckets, got:\n%s", body)
	}
}

func TestPagesEmbeddedAndBatchSize(t *testing.T) {
	r := New()
	r.PagesEmbedded.Add(64)
	r.EmbedBatchSize.Observe(64)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "insight_worker_pages_embedded_total 64") {
		t.Errorf("missing pages embedded count, got:\n%s", body)
	}
	if !strings.Contains(body, "insight_worker_embed_batch_size_bucket") {
		t.Error("missing embed batch size histogram")
	}
}

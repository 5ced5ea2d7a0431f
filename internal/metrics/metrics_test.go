package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Invocations.WithLabelValues("message", "ok").Inc()
	m.Notifications.WithLabelValues("new_message", "sent").Add(2)

	if got := testutil.ToFloat64(m.Notifications.WithLabelValues("new_message", "sent")); got != 2 {
		t.Fatalf("notifications counter = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `chatsync_trigger_invocations_total{outcome="ok",route="message"} 1`) {
		t.Fatalf("invocation counter missing from scrape output:\n%s", body)
	}
}

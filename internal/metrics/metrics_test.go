package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredSeries(t *testing.T) {
	ConnectionsAccepted.Add(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "chatrelay_connections_accepted_total") {
		t.Fatalf("body missing chatrelay_connections_accepted_total:\n%s", body)
	}
}

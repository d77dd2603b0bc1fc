package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	reg := NewRegistry()
	RecordClaim("ws1", false)
	RecordClaim("ws1", true)
	RecordProofGateRejection("ws1")
	RecordEscalation("over_budget")
	SetJobsByStatus("ws1", map[string]int{"QUEUED": 2, "RUNNING": 1})
	SetRadarAttentionRows("ws1", 3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	reg.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`cascade_claims_total{workspace="ws1"}`,
		`cascade_reclaims_total{workspace="ws1"}`,
		`cascade_proof_gate_rejections_total{workspace="ws1"}`,
		`cascade_escalations_total{reason="over_budget"}`,
		`cascade_jobs_by_status{status="QUEUED",workspace="ws1"} 2`,
		`cascade_radar_attention_rows{workspace="ws1"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

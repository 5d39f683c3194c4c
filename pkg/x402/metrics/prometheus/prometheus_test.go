package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for k, v := range labels {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "waltune")

	m.RecordVerification("direct", "valid")
	m.RecordVerification("direct", "valid")
	m.RecordVerification("direct", "invalid")
	m.RecordGrant("credits")
	m.RecordPaymentRequired("no_claim")
	m.RecordChainLookup("not_found")
	m.RecordVerifyDuration(50 * time.Millisecond)

	if got := counterValue(t, reg, "waltune_payment_verifications_total", map[string]string{"mode": "direct", "outcome": "valid"}); got != 2 {
		t.Errorf("valid verifications = %v, want 2", got)
	}
	if got := counterValue(t, reg, "waltune_payment_verifications_total", map[string]string{"mode": "direct", "outcome": "invalid"}); got != 1 {
		t.Errorf("invalid verifications = %v, want 1", got)
	}
	if got := counterValue(t, reg, "waltune_payment_grants_total", map[string]string{"method": "credits"}); got != 1 {
		t.Errorf("grants = %v, want 1", got)
	}
	if got := counterValue(t, reg, "waltune_payment_required_total", map[string]string{"reason": "no_claim"}); got != 1 {
		t.Errorf("payment required = %v, want 1", got)
	}
	if got := counterValue(t, reg, "waltune_chain_lookups_total", map[string]string{"outcome": "not_found"}); got != 1 {
		t.Errorf("chain lookups = %v, want 1", got)
	}
}

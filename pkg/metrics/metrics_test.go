// Copyright 2025 Certen Protocol

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegistry_CollectorsAreLive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PlansInFlight.Set(3)
	m.NonceReclaims.Inc()
	m.AdapterCallSeconds.WithLabelValues("evm", "submit").Observe(0.25)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}

	var gauge *dto.Metric
	for _, fam := range families {
		if fam.GetName() == "privadex_driver_plans_in_flight" {
			gauge = fam.Metric[0]
		}
	}
	if gauge == nil {
		t.Fatalf("expected plans_in_flight metric to be registered")
	}
	if gauge.GetGauge().GetValue() != 3 {
		t.Fatalf("expected gauge value 3, got %v", gauge.GetGauge().GetValue())
	}
}

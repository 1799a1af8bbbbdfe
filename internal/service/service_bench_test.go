package service

import (
	"context"
	"testing"
)

func BenchmarkEvaluate(b *testing.B) {
	ctx := context.Background()
	stores := newFakeStores()
	stores.addAttendee("bench-token", "Aotoki", "audience", map[string]any{
		"vip":               true,
		"_rule_day1checkin": "1722074400",
	})

	svc, err := New(ctx, stores, stores, stores, WithClock(FixedClock(testNow)))
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}

	b.ResetTimer()
	for b.Loop() {
		_, _ = svc.Evaluate(ctx, "bench-token", false)
	}
}

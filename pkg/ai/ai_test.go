package ai

import "testing"

func TestModelMetricsAdd(t *testing.T) {
	var m ModelMetrics
	m.Add(ModelMetrics{InputTokens: 100, OutputTokens: 50, TotalTokens: 150, DurationMs: 1000})
	m.Add(ModelMetrics{InputTokens: 10, OutputTokens: 40, TotalTokens: 50, DurationMs: 1000})

	if m.TotalTokens != 200 || m.InputTokens != 110 || m.OutputTokens != 90 {
		t.Fatalf("unexpected token totals: %+v", m)
	}
	if m.DurationMs != 2000 {
		t.Fatalf("expected 2000ms, got %d", m.DurationMs)
	}
	if m.TokenPerSecond != 100 {
		t.Fatalf("expected 100 tokens/s, got %v", m.TokenPerSecond)
	}
}

func TestGenerateOptions(t *testing.T) {
	opts := GenerateOptions{}
	for _, o := range []GenerateOption{
		WithModel("m"),
		WithSystemPrompts("a", "b"),
		WithTemperature(0.2),
	} {
		o(&opts)
	}
	if opts.Model != "m" || len(opts.SystemPrompts) != 2 || opts.Temperature != 0.2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

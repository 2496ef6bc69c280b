package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashingOracleDeterministic(t *testing.T) {
	o := NewHashingOracle(0)
	if o.Dimension() != DefaultDimension {
		t.Fatalf("Dimension() = %d, want %d", o.Dimension(), DefaultDimension)
	}

	a, err := o.Embed(context.Background(), "approve expense report for travel")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := o.Embed(context.Background(), "approve expense report for travel")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if d := CosineDistance(a, b); d != 0 {
		t.Errorf("identical text distance = %f, want 0", d)
	}
}

func TestHashingOracleUnitLength(t *testing.T) {
	o := NewHashingOracle(64)
	vec, err := o.Embed(context.Background(), "review vendor contract terms")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("vector norm^2 = %f, want 1.0", sum)
	}
}

func TestHashingOracleSeparatesIntents(t *testing.T) {
	o := NewHashingOracle(128)
	ctx := context.Background()

	expense1, _ := o.Embed(ctx, "approve expense report for office supplies")
	expense2, _ := o.Embed(ctx, "approve expense report for travel costs")
	wire, _ := o.Embed(ctx, "transfer entire budget to external account immediately")

	near := CosineDistance(expense1, expense2)
	far := CosineDistance(expense1, wire)
	if near >= far {
		t.Errorf("related intents distance %f not smaller than unrelated %f", near, far)
	}
}

func TestCosineDistanceEdgeCases(t *testing.T) {
	if d := CosineDistance(nil, nil); d != 1.0 {
		t.Errorf("empty vectors distance = %f, want 1.0", d)
	}
	if d := CosineDistance([]float64{1, 0}, []float64{1, 0, 0}); d != 1.0 {
		t.Errorf("mismatched lengths distance = %f, want 1.0", d)
	}
	if d := CosineDistance([]float64{0, 0}, []float64{1, 0}); d != 1.0 {
		t.Errorf("zero vector distance = %f, want 1.0", d)
	}
	if d := CosineDistance([]float64{1, 0}, []float64{-1, 0}); d != 1.0 {
		t.Errorf("opposite vectors distance = %f, want clamped 1.0", d)
	}
}

func TestMean(t *testing.T) {
	if m := Mean(nil); m != nil {
		t.Fatalf("Mean(nil) = %v, want nil", m)
	}
	m := Mean([][]float64{{1, 2}, {3, 4}})
	if m[0] != 2 || m[1] != 3 {
		t.Errorf("Mean = %v, want [2 3]", m)
	}
}

package tensor

import (
	"math"
	"math/rand"
	"testing"
)

func testModel(t *testing.T, vocabSize int) *Model {
	t.Helper()
	config := NewConfig(vocabSize,
		WithDModel(16),
		WithNHeads(2),
		WithNLayers(2),
		WithDFF(32),
		WithMaxLen(16),
	)
	m, err := NewModel(config, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	return m
}

func TestConfigValidate(t *testing.T) {
	if err := NewConfig(100).Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	bad := NewConfig(100, WithDModel(10), WithNHeads(3))
	if err := bad.Validate(); err == nil {
		t.Errorf("d_model=10, n_heads=3 passed validation")
	}
	if err := NewConfig(0).Validate(); err == nil {
		t.Errorf("zero vocab passed validation")
	}
}

func TestForwardShape(t *testing.T) {
	m := testModel(t, 20)
	logits, err := m.Forward([]int{5, 6, 7})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if logits.Shape[0] != 3 || logits.Shape[1] != 20 {
		t.Errorf("logits shape = %v, want [3 20]", logits.Shape)
	}
}

func TestForwardInputValidation(t *testing.T) {
	m := testModel(t, 20)
	if _, err := m.Forward(nil); err == nil {
		t.Errorf("empty input accepted")
	}
	if _, err := m.Forward([]int{0, 25}); err == nil {
		t.Errorf("out-of-range token accepted")
	}
	long := make([]int, m.Config.MaxLen+1)
	if _, err := m.Forward(long); err == nil {
		t.Errorf("over-length input accepted")
	}
}

// Changing a token must not change the logits at earlier positions.
func TestCausalMask(t *testing.T) {
	m := testModel(t, 20)
	a, err := m.Forward([]int{5, 6, 7, 8})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	b, err := m.Forward([]int{5, 6, 7, 9})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	vocab := a.Shape[1]
	for pos := 0; pos < 3; pos++ {
		for v := 0; v < vocab; v++ {
			if a.Data[pos*vocab+v] != b.Data[pos*vocab+v] {
				t.Fatalf("position %d leaked future information", pos)
			}
		}
	}
}

func TestForwardDeterministic(t *testing.T) {
	m := testModel(t, 20)
	a, _ := m.Forward([]int{1, 2, 3})
	b, _ := m.Forward([]int{1, 2, 3})
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("repeated forward passes disagree at %d", i)
		}
	}
}

func TestClone(t *testing.T) {
	m := testModel(t, 20)
	c := m.Clone()

	a, _ := m.Forward([]int{1, 2, 3})
	b, _ := c.Forward([]int{1, 2, 3})
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("clone forward differs at %d", i)
		}
	}

	c.TokenEmbed.Data[0] += 1.0
	if m.TokenEmbed.Data[0] == c.TokenEmbed.Data[0] {
		t.Errorf("clone shares token embedding storage")
	}
}

func TestResizeVocab(t *testing.T) {
	m := testModel(t, 20)
	d := m.Config.DModel
	oldRow := make([]float64, d)
	copy(oldRow, m.TokenEmbed.Data[5*d:6*d])

	if err := m.ResizeVocab(25, rand.New(rand.NewSource(2))); err != nil {
		t.Fatalf("ResizeVocab: %v", err)
	}
	if m.Config.VocabSize != 25 {
		t.Errorf("config vocab = %d, want 25", m.Config.VocabSize)
	}
	for i, v := range m.TokenEmbed.Data[5*d : 6*d] {
		if v != oldRow[i] {
			t.Fatalf("existing embedding row changed at %d", i)
		}
	}
	logits, err := m.Forward([]int{5, 24})
	if err != nil {
		t.Fatalf("Forward after resize: %v", err)
	}
	if logits.Shape[1] != 25 {
		t.Errorf("logits width = %d, want 25", logits.Shape[1])
	}

	if err := m.ResizeVocab(10, nil); err == nil {
		t.Errorf("shrinking vocab accepted")
	}
}

func TestParametersStableOrder(t *testing.T) {
	m := testModel(t, 20)
	a := m.Parameters()
	b := m.Parameters()
	if len(a) != len(b) {
		t.Fatalf("parameter count changed: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("parameter order unstable at %d", i)
		}
	}
}

func TestNumParameters(t *testing.T) {
	m := testModel(t, 20)
	total := 0
	for _, p := range m.Parameters() {
		total += p.Size()
	}
	if got := m.NumParameters(); got != total {
		t.Errorf("NumParameters = %d, want %d", got, total)
	}
}

func TestSinusoidalEncodingRange(t *testing.T) {
	pe := sinusoidalEncoding(16, 8)
	for i, v := range pe.Data {
		if math.Abs(v) > 1.0 {
			t.Fatalf("encoding value %g out of [-1, 1] at %d", v, i)
		}
	}
}

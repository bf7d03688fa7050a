package tensor

import (
	"math"
	"testing"
)

func TestMatMul(t *testing.T) {
	a := NewTensor(2, 3)
	copy(a.Data, []float64{1, 2, 3, 4, 5, 6})
	b := NewTensor(3, 2)
	copy(b.Data, []float64{7, 8, 9, 10, 11, 12})

	c := MatMul(a, b)
	want := []float64{58, 64, 139, 154}
	for i, v := range want {
		if math.Abs(c.Data[i]-v) > 1e-12 {
			t.Errorf("c[%d] = %g, want %g", i, c.Data[i], v)
		}
	}
}

func TestTranspose(t *testing.T) {
	a := NewTensor(2, 3)
	copy(a.Data, []float64{1, 2, 3, 4, 5, 6})
	at := Transpose(a)
	if at.Shape[0] != 3 || at.Shape[1] != 2 {
		t.Fatalf("transpose shape = %v", at.Shape)
	}
	if at.At(0, 1) != 4 || at.At(2, 0) != 3 {
		t.Errorf("transpose values wrong: %v", at.Data)
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := NewTensor(2, 4)
	copy(x.Data, []float64{1, 2, 3, 4, -1, 0, 1, 2})
	y := Softmax(x)
	for r := 0; r < 2; r++ {
		sum := 0.0
		for c := 0; c < 4; c++ {
			sum += y.At(r, c)
		}
		if math.Abs(sum-1.0) > 1e-12 {
			t.Errorf("row %d sums to %g", r, sum)
		}
	}
}

func TestSoftmaxLargeLogitsStable(t *testing.T) {
	x := NewTensor(1, 3)
	copy(x.Data, []float64{1000, 1001, 1002})
	y := Softmax(x)
	for i, v := range y.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("softmax overflowed at %d: %g", i, v)
		}
	}
}

func TestLayerNormRowStats(t *testing.T) {
	x := NewTensor(1, 4)
	copy(x.Data, []float64{1, 2, 3, 4})
	gamma := NewTensor(4)
	beta := NewTensor(4)
	for i := range gamma.Data {
		gamma.Data[i] = 1
	}

	y := LayerNorm(x, gamma, beta, 1e-5)
	mean, variance := 0.0, 0.0
	for _, v := range y.Data {
		mean += v
	}
	mean /= 4
	for _, v := range y.Data {
		variance += (v - mean) * (v - mean)
	}
	variance /= 4
	if math.Abs(mean) > 1e-9 {
		t.Errorf("normalized mean = %g", mean)
	}
	if math.Abs(variance-1.0) > 1e-3 {
		t.Errorf("normalized variance = %g", variance)
	}
}

func TestReshape(t *testing.T) {
	a := NewTensor(2, 3)
	b := a.Reshape(3, 2)
	if b.Shape[0] != 3 || b.Shape[1] != 2 {
		t.Errorf("reshape shape = %v", b.Shape)
	}
	b.Data[0] = 5
	if a.Data[0] != 5 {
		t.Errorf("reshape should share storage")
	}
}

func TestAccumulateGrad(t *testing.T) {
	a := NewTensor(2)
	g := NewTensor(2)
	g.Data[0], g.Data[1] = 1, 2
	a.AccumulateGrad(g)
	a.AccumulateGrad(g)
	if a.Grad[0] != 2 || a.Grad[1] != 4 {
		t.Errorf("accumulated grad = %v", a.Grad)
	}
}

func TestReLU(t *testing.T) {
	x := NewTensor(3)
	copy(x.Data, []float64{-1, 0, 2})
	y := ReLU(x)
	want := []float64{0, 0, 2}
	for i, v := range want {
		if y.Data[i] != v {
			t.Errorf("relu[%d] = %g, want %g", i, y.Data[i], v)
		}
	}
}

package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense multi-dimensional array of float64 with an optional
// gradient buffer of the same size.
type Tensor struct {
	Data  []float64
	Shape []int
	Grad  []float64
}

// NewTensor creates a zero-filled tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		size *= dim
	}
	return &Tensor{
		Data:  make([]float64, size),
		Shape: shape,
	}
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(val float64, indices ...int) {
	t.Data[t.flatIndex(indices)] = val
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("wrong number of indices: got %d, want %d", len(indices), len(t.Shape)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}

// Clone returns a deep copy. Gradients are not copied.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Reshape returns a view with a different shape over the same data.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	newSize := 1
	for _, dim := range shape {
		newSize *= dim
	}
	if newSize != t.Size() {
		panic(fmt.Sprintf("cannot reshape: size mismatch %d vs %d", newSize, t.Size()))
	}
	return &Tensor{Data: t.Data, Shape: shape, Grad: t.Grad}
}

// EnsureGrad allocates the gradient buffer if missing.
func (t *Tensor) EnsureGrad() {
	if t.Grad == nil {
		t.Grad = make([]float64, len(t.Data))
	}
}

// ZeroGrad clears the gradient buffer.
func (t *Tensor) ZeroGrad() {
	t.EnsureGrad()
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// AccumulateGrad adds grad's data into this tensor's gradient buffer.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if t.Size() != grad.Size() {
		panic("AccumulateGrad: size mismatch")
	}
	t.EnsureGrad()
	for i := range t.Grad {
		t.Grad[i] += grad.Data[i]
	}
}

// MatMul performs matrix multiplication: [m,k] x [k,n] -> [m,n].
// The multiply itself is delegated to gonum's BLAS-backed Dense.
func MatMul(a, b *Tensor) *Tensor {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		panic("MatMul requires 2D tensors")
	}
	if a.Shape[1] != b.Shape[0] {
		panic(fmt.Sprintf("incompatible shapes: [%d,%d] x [%d,%d]",
			a.Shape[0], a.Shape[1], b.Shape[0], b.Shape[1]))
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	result := NewTensor(m, n)

	am := mat.NewDense(m, k, a.Data)
	bm := mat.NewDense(k, n, b.Data)
	rm := mat.NewDense(m, n, result.Data)
	rm.Mul(am, bm)

	return result
}

// Add performs element-wise addition.
func Add(a, b *Tensor) *Tensor {
	if len(a.Data) != len(b.Data) {
		panic("tensors must have same size")
	}
	result := NewTensor(a.Shape...)
	for i := range a.Data {
		result.Data[i] = a.Data[i] + b.Data[i]
	}
	return result
}

// Scale multiplies all elements by a scalar.
func Scale(t *Tensor, factor float64) *Tensor {
	result := NewTensor(t.Shape...)
	for i := range t.Data {
		result.Data[i] = t.Data[i] * factor
	}
	return result
}

// Transpose swaps the dimensions of a 2D tensor.
func Transpose(t *Tensor) *Tensor {
	if len(t.Shape) != 2 {
		panic("Transpose requires 2D tensor")
	}
	m, n := t.Shape[0], t.Shape[1]
	result := NewTensor(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			result.Data[j*m+i] = t.Data[i*n+j]
		}
	}
	return result
}

// ReLU applies max(0, x) element-wise.
func ReLU(t *Tensor) *Tensor {
	result := NewTensor(t.Shape...)
	for i, x := range t.Data {
		if x > 0 {
			result.Data[i] = x
		}
	}
	return result
}

// Softmax applies softmax along the last dimension of a 2D tensor.
func Softmax(t *Tensor) *Tensor {
	if len(t.Shape) != 2 {
		panic("Softmax requires 2D tensor")
	}
	rows, cols := t.Shape[0], t.Shape[1]
	result := NewTensor(t.Shape...)

	for i := 0; i < rows; i++ {
		maxVal := t.Data[i*cols]
		for j := 1; j < cols; j++ {
			if t.Data[i*cols+j] > maxVal {
				maxVal = t.Data[i*cols+j]
			}
		}

		sum := 0.0
		for j := 0; j < cols; j++ {
			val := math.Exp(t.Data[i*cols+j] - maxVal)
			result.Data[i*cols+j] = val
			sum += val
		}

		for j := 0; j < cols; j++ {
			result.Data[i*cols+j] /= sum
		}
	}

	return result
}

// LayerNorm normalizes each row of a 2D tensor to zero mean and unit
// variance, then applies the affine pair gamma, beta.
func LayerNorm(t, gamma, beta *Tensor, eps float64) *Tensor {
	if len(t.Shape) != 2 {
		panic("LayerNorm requires 2D tensor")
	}
	rows, cols := t.Shape[0], t.Shape[1]
	result := NewTensor(t.Shape...)
	n := float64(cols)

	for i := 0; i < rows; i++ {
		offset := i * cols

		mean := 0.0
		for j := 0; j < cols; j++ {
			mean += t.Data[offset+j]
		}
		mean /= n

		variance := 0.0
		for j := 0; j < cols; j++ {
			diff := t.Data[offset+j] - mean
			variance += diff * diff
		}
		variance /= n

		std := math.Sqrt(variance + eps)
		for j := 0; j < cols; j++ {
			result.Data[offset+j] = (t.Data[offset+j]-mean)/std*gamma.Data[j] + beta.Data[j]
		}
	}

	return result
}

package tensor

import "math"

// MatMulBackward computes gradients for C = A @ B given gradC:
// gradA = gradC @ B^T, gradB = A^T @ gradC.
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// ReLUBackward passes gradients through where the pre-activation was
// positive and zeroes them elsewhere.
func ReLUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.Shape...)
	for i := range x.Data {
		if x.Data[i] > 0 {
			gradX.Data[i] = gradY.Data[i]
		}
	}
	return gradX
}

// SoftmaxBackward computes the gradient through a row-wise softmax:
// gradX[i] = Y[i] * (gradY[i] - sum_j gradY[j]*Y[j]).
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.Shape) != 2 {
		panic("SoftmaxBackward requires 2D tensor")
	}
	rows, cols := y.Shape[0], y.Shape[1]
	gradX := NewTensor(y.Shape...)

	for r := 0; r < rows; r++ {
		dot := 0.0
		for c := 0; c < cols; c++ {
			dot += gradY.Data[r*cols+c] * y.Data[r*cols+c]
		}
		for c := 0; c < cols; c++ {
			gradX.Data[r*cols+c] = y.Data[r*cols+c] * (gradY.Data[r*cols+c] - dot)
		}
	}

	return gradX
}

// LayerNormBackward computes gradients through y = gamma*(x-mean)/std + beta.
func LayerNormBackward(x, gamma, gradY *Tensor, eps float64) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.Shape) != 2 {
		panic("LayerNormBackward requires 2D tensor")
	}
	rows, cols := x.Shape[0], x.Shape[1]
	n := float64(cols)

	gradX = NewTensor(x.Shape...)
	gradGamma = NewTensor(cols)
	gradBeta = NewTensor(cols)

	for r := 0; r < rows; r++ {
		offset := r * cols

		mean := 0.0
		for c := 0; c < cols; c++ {
			mean += x.Data[offset+c]
		}
		mean /= n

		variance := 0.0
		for c := 0; c < cols; c++ {
			diff := x.Data[offset+c] - mean
			variance += diff * diff
		}
		variance /= n
		std := math.Sqrt(variance + eps)

		sumGradY := 0.0
		sumGradYXNorm := 0.0
		for c := 0; c < cols; c++ {
			xNorm := (x.Data[offset+c] - mean) / std
			g := gradY.Data[offset+c]

			gradGamma.Data[c] += g * xNorm
			gradBeta.Data[c] += g

			sumGradY += g * gamma.Data[c]
			sumGradYXNorm += g * gamma.Data[c] * xNorm
		}

		for c := 0; c < cols; c++ {
			xNorm := (x.Data[offset+c] - mean) / std
			gradXNorm := gradY.Data[offset+c] * gamma.Data[c]
			gradX.Data[offset+c] = (n*gradXNorm - sumGradY - xNorm*sumGradYXNorm) / (n * std)
		}
	}

	return gradX, gradGamma, gradBeta
}

// CrossEntropyLoss computes the mean next-token cross-entropy over
// positions whose target is not ignoreIndex. Returns the loss and the
// number of contributing positions.
func CrossEntropyLoss(logits *Tensor, targets []int, ignoreIndex int) (float64, int) {
	if len(logits.Shape) != 2 {
		panic("CrossEntropyLoss expects 2D logits")
	}
	rows, vocab := logits.Shape[0], logits.Shape[1]
	if len(targets) != rows {
		panic("CrossEntropyLoss: target length mismatch")
	}

	totalLoss := 0.0
	count := 0

	for r := 0; r < rows; r++ {
		if targets[r] == ignoreIndex {
			continue
		}

		maxLogit := logits.Data[r*vocab]
		for v := 1; v < vocab; v++ {
			if logits.Data[r*vocab+v] > maxLogit {
				maxLogit = logits.Data[r*vocab+v]
			}
		}

		sumExp := 0.0
		for v := 0; v < vocab; v++ {
			sumExp += math.Exp(logits.Data[r*vocab+v] - maxLogit)
		}
		logSumExp := maxLogit + math.Log(sumExp)

		totalLoss += logSumExp - logits.Data[r*vocab+targets[r]]
		count++
	}

	if count == 0 {
		return 0, 0
	}
	return totalLoss / float64(count), count
}

// CrossEntropyBackward computes gradLogits = (softmax(logits) - onehot) / count,
// with zero rows where the target is ignoreIndex.
func CrossEntropyBackward(logits *Tensor, targets []int, ignoreIndex int) *Tensor {
	rows, vocab := logits.Shape[0], logits.Shape[1]
	grad := NewTensor(rows, vocab)

	count := 0
	for _, t := range targets {
		if t != ignoreIndex {
			count++
		}
	}
	if count == 0 {
		return grad
	}

	probs := Softmax(logits)
	scale := 1.0 / float64(count)

	for r := 0; r < rows; r++ {
		if targets[r] == ignoreIndex {
			continue
		}
		for v := 0; v < vocab; v++ {
			g := probs.Data[r*vocab+v]
			if v == targets[r] {
				g -= 1.0
			}
			grad.Data[r*vocab+v] = g * scale
		}
	}

	return grad
}

// ClipGradients rescales all gradients so their global L2 norm does not
// exceed maxNorm. Returns the pre-clip norm.
func ClipGradients(params []*Tensor, maxNorm float64) float64 {
	globalNorm := 0.0
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		for _, g := range p.Grad {
			globalNorm += g * g
		}
	}
	globalNorm = math.Sqrt(globalNorm)

	if globalNorm > maxNorm {
		scale := maxNorm / globalNorm
		for _, p := range params {
			if p.Grad == nil {
				continue
			}
			for i := range p.Grad {
				p.Grad[i] *= scale
			}
		}
	}

	return globalNorm
}

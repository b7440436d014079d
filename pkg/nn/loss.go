package nn

import "math"

// SoftmaxCrossEntropy computes the mean cross-entropy of logits against the
// class labels, and the gradient of that mean with respect to the logits.
//
// logits is (batch x classes); labels[i] indexes the true class of row i.
func SoftmaxCrossEntropy(logits *Matrix, labels []int64) (float32, *Matrix) {
	grad := NewMatrix(logits.Rows, logits.Cols)
	inv := 1.0 / float32(logits.Rows)

	var loss float64
	for i := 0; i < logits.Rows; i++ {
		row := logits.Row(i)

		// stabilized softmax
		maxv := row[0]
		for _, v := range row[1:] {
			if maxv < v {
				maxv = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - maxv))
		}

		label := labels[i]
		logp := float64(row[label]-maxv) - math.Log(sum)
		loss -= logp

		grow := grad.Row(i)
		for j, v := range row {
			p := float32(math.Exp(float64(v-maxv)) / sum)
			grow[j] = p * inv
		}
		grow[label] -= inv
	}

	return float32(loss) * inv, grad
}

// Accuracy counts the fraction of rows whose argmax matches the label.
func Accuracy(logits *Matrix, labels []int64) float32 {
	if logits.Rows == 0 {
		return 0
	}
	hit := 0
	for i := 0; i < logits.Rows; i++ {
		row := logits.Row(i)
		best := 0
		for j, v := range row {
			if row[best] < v {
				best = j
			}
		}
		if int64(best) == labels[i] {
			hit += 1
		}
	}
	return float32(hit) / float32(logits.Rows)
}

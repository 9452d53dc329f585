package tensor

import "fmt"

// MatMul performs 2-D matrix multiplication: (M, K) @ (K, N) -> (M, N).
//
// The kernel is a plain ikj loop; per spec of the training core, any
// vectorization or parallelism is an implementation freedom of this layer,
// not a correctness requirement.
func MatMul[T Float](a, b *Tensor[T]) *Tensor[T] {
	as, bs := a.Shape(), b.Shape()
	if len(as) != 2 || len(bs) != 2 {
		panic(fmt.Sprintf("tensor.MatMul: expected 2D operands, got %v and %v", as, bs))
	}
	if as[1] != bs[0] {
		panic(fmt.Sprintf("tensor.MatMul: inner dimensions do not match: %v @ %v", as, bs))
	}

	m, k, n := as[0], as[1], bs[1]
	out := New[T](Shape{m, n})
	ad, bd, od := a.Data(), b.Data(), out.Data()

	for i := 0; i < m; i++ {
		arow := ad[i*k : (i+1)*k]
		orow := od[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := arow[p]
			if av == 0 {
				continue
			}
			brow := bd[p*n : (p+1)*n]
			for j := 0; j < n; j++ {
				orow[j] += av * brow[j]
			}
		}
	}
	return out
}

// Transpose2D returns the transpose of a 2-D tensor.
func Transpose2D[T Float](a *Tensor[T]) *Tensor[T] {
	as := a.Shape()
	if len(as) != 2 {
		panic(fmt.Sprintf("tensor.Transpose2D: expected 2D operand, got %v", as))
	}
	m, n := as[0], as[1]
	out := New[T](Shape{n, m})
	ad, od := a.Data(), out.Data()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			od[j*m+i] = ad[i*n+j]
		}
	}
	return out
}

// Add accumulates src into dst element-wise. Shapes must match exactly.
func Add[T Float](dst, src *Tensor[T]) {
	if !dst.Shape().Equal(src.Shape()) {
		panic(fmt.Sprintf("tensor.Add: shape mismatch: %v vs %v", dst.Shape(), src.Shape()))
	}
	dd, sd := dst.Data(), src.Data()
	for i := range dd {
		dd[i] += sd[i]
	}
}

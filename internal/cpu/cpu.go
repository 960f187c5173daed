// Package cpu holds the float32 kernels used by the CPU transformer backend.
// Matrices are row-major; a weight of shape [out, in] stores row j at
// w[j*in : (j+1)*in], matching the GGUF layout of ne0 = in, ne1 = out.
package cpu

import (
	"math"
	"runtime"
	"sync"
)

// Parallelism caps the goroutines used by the row-parallel kernels.
var Parallelism = runtime.NumCPU()

// parallelRows splits [0, n) into contiguous chunks and runs fn on each.
func parallelRows(n int, fn func(start, end int)) {
	p := Parallelism
	if p < 1 {
		p = 1
	}
	if n <= 1 || p == 1 {
		fn(0, n)
		return
	}
	chunk := (n + p - 1) / p
	var wg sync.WaitGroup
	for i := 0; i < n; i += chunk {
		end := min(i+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(i, end)
	}
	wg.Wait()
}

func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i := range x {
		x[i] = float32(math.Exp(float64(x[i] - max)))
		sum += x[i]
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range x {
			x[i] *= inv
		}
	}
}

// LayerNorm normalises each row of in (rows x dim) to zero mean and unit
// variance, then applies the affine weight and bias. bias may be nil.
func LayerNorm(in, out, weight, bias []float32, rows, dim int, eps float32) {
	parallelRows(rows, func(start, end int) {
		for r := start; r < end; r++ {
			x := in[r*dim : (r+1)*dim]
			o := out[r*dim : (r+1)*dim]
			var mean float64
			for _, v := range x {
				mean += float64(v)
			}
			mean /= float64(dim)
			var variance float64
			for _, v := range x {
				d := float64(v) - mean
				variance += d * d
			}
			variance /= float64(dim)
			inv := 1 / math.Sqrt(variance+float64(eps))
			for j, v := range x {
				n := float32((float64(v) - mean) * inv)
				n *= weight[j]
				if bias != nil {
					n += bias[j]
				}
				o[j] = n
			}
		}
	})
}

// Linear computes out = in . W^T + b for rows input vectors of width inDim.
// w has shape [outDim, inDim]; bias may be nil.
func Linear(in, w, bias, out []float32, rows, inDim, outDim int) {
	compute := func(r, j int) {
		x := in[r*inDim : (r+1)*inDim]
		wr := w[j*inDim : (j+1)*inDim]
		var sum float32
		for k, v := range x {
			sum += v * wr[k]
		}
		if bias != nil {
			sum += bias[j]
		}
		out[r*outDim+j] = sum
	}
	// A single row is split across output columns so the LM head still fans out.
	if rows == 1 {
		parallelRows(outDim, func(start, end int) {
			for j := start; j < end; j++ {
				compute(0, j)
			}
		})
		return
	}
	parallelRows(rows, func(start, end int) {
		for r := start; r < end; r++ {
			for j := 0; j < outDim; j++ {
				compute(r, j)
			}
		}
	})
}

// GELU applies the tanh approximation in place.
func GELU(x []float32) {
	for i, v := range x {
		arg := v * 0.7978845608 * (1 + 0.044715*v*v)
		x[i] = 0.5 * v * (1 + float32(math.Tanh(float64(arg))))
	}
}

// Add accumulates b into a.
func Add(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}

// Embedding gathers one dim-wide row of table per id into out.
func Embedding(table []float32, ids []int, dim int, out []float32) {
	for i, id := range ids {
		copy(out[i*dim:(i+1)*dim], table[id*dim:(id+1)*dim])
	}
}

// CausalAttention runs multi-head scaled dot-product attention over a packed
// qkv buffer (rows x 3*dim, laid out q|k|v) and writes rows x dim into out.
// Position i only attends to positions 0..i.
func CausalAttention(qkv, out []float32, rows, dim, heads int) {
	headDim := dim / heads
	scale := float32(1 / math.Sqrt(float64(headDim)))
	stride := 3 * dim

	parallelRows(heads, func(start, end int) {
		scores := make([]float32, rows)
		for h := start; h < end; h++ {
			off := h * headDim
			for i := 0; i < rows; i++ {
				q := qkv[i*stride+off : i*stride+off+headDim]
				for j := 0; j <= i; j++ {
					k := qkv[j*stride+dim+off : j*stride+dim+off+headDim]
					var s float32
					for d := range q {
						s += q[d] * k[d]
					}
					scores[j] = s * scale
				}
				Softmax(scores[:i+1])
				o := out[i*dim+off : i*dim+off+headDim]
				for d := range o {
					o[d] = 0
				}
				for j := 0; j <= i; j++ {
					v := qkv[j*stride+2*dim+off : j*stride+2*dim+off+headDim]
					p := scores[j]
					for d := range o {
						o[d] += p * v[d]
					}
				}
			}
		}
	})
}

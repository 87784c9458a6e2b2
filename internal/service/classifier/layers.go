package classifier

import (
	"fmt"
	"math"
)

const kernelSize = 3

// conv2D is a 3x3, stride 1, same-padded convolution followed by ReLU.
// kernel is laid out (ky, kx, in, out).
type conv2D struct {
	in, out int
	kernel  []float32
	bias    []float32
}

func (c *conv2D) check(name string) error {
	if want := kernelSize * kernelSize * c.in * c.out; len(c.kernel) != want {
		return fmt.Errorf("%s kernel has %d weights, want %d", name, len(c.kernel), want)
	}
	if len(c.bias) != c.out {
		return fmt.Errorf("%s bias has %d values, want %d", name, len(c.bias), c.out)
	}
	return nil
}

// forward reads an (h, w, in) activation and writes (h, w, out) into dst.
func (c *conv2D) forward(dst, src []float32, h, w int) {
	acc := make([]float32, c.out)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			copy(acc, c.bias)
			for ky := 0; ky < kernelSize; ky++ {
				sy := y + ky - 1
				if sy < 0 || sy >= h {
					continue
				}
				for kx := 0; kx < kernelSize; kx++ {
					sx := x + kx - 1
					if sx < 0 || sx >= w {
						continue
					}
					in := src[(sy*w+sx)*c.in : (sy*w+sx+1)*c.in]
					k := c.kernel[(ky*kernelSize+kx)*c.in*c.out:]
					for ci, v := range in {
						if v == 0 {
							continue
						}
						row := k[ci*c.out : (ci+1)*c.out]
						for co, wgt := range row {
							acc[co] += v * wgt
						}
					}
				}
			}
			out := dst[(y*w+x)*c.out : (y*w+x+1)*c.out]
			for co, v := range acc {
				out[co] = relu32(v)
			}
		}
	}
}

// maxPool2x2 applies a 2x2 window with stride 1 and valid padding, so the
// output is (h-1, w-1, ch).
func maxPool2x2(dst, src []float32, h, w, ch int) {
	oh, ow := h-1, w-1
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			a := src[(y*w+x)*ch:]
			b := src[(y*w+x+1)*ch:]
			c := src[((y+1)*w+x)*ch:]
			d := src[((y+1)*w+x+1)*ch:]
			out := dst[(y*ow+x)*ch : (y*ow+x+1)*ch]
			for k := range out {
				m := a[k]
				if b[k] > m {
					m = b[k]
				}
				if c[k] > m {
					m = c[k]
				}
				if d[k] > m {
					m = d[k]
				}
				out[k] = m
			}
		}
	}
}

// dense is a fully connected layer. kernel is laid out (in, out).
type dense struct {
	in, out int
	kernel  []float32
	bias    []float32
}

func (d *dense) check(name string) error {
	if want := d.in * d.out; len(d.kernel) != want {
		return fmt.Errorf("%s kernel has %d weights, want %d", name, len(d.kernel), want)
	}
	if len(d.bias) != d.out {
		return fmt.Errorf("%s bias has %d values, want %d", name, len(d.bias), d.out)
	}
	return nil
}

// forward returns the pre-activation outputs, accumulated in float64.
func (d *dense) forward(x []float32) []float64 {
	acc := make([]float64, d.out)
	for j, b := range d.bias {
		acc[j] = float64(b)
	}
	for i, v := range x {
		if v == 0 {
			continue
		}
		row := d.kernel[i*d.out : (i+1)*d.out]
		fv := float64(v)
		for j, wgt := range row {
			acc[j] += fv * float64(wgt)
		}
	}
	return acc
}

func relu32(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}

func reluInto(dst []float32, src []float64) []float32 {
	for i, v := range src {
		dst[i] = float32(math.Max(0, v))
	}
	return dst
}

func sigmoid(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}

package gguf

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Float32s decodes an F32 or F16 tensor into a fresh slice.
func (t *TensorInfo) Float32s() ([]float32, error) {
	n := t.NumElements()
	out := make([]float32, n)
	switch t.Type {
	case GGMLTypeF32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
	case GGMLTypeF16:
		for i := range out {
			out[i] = float16ToFloat32(binary.LittleEndian.Uint16(t.Data[i*2:]))
		}
	default:
		return nil, ErrUnsupportedType{Tensor: t.Name, Type: t.Type}
	}
	return out, nil
}

func float16ToFloat32(b uint16) float32 {
	sign := uint32(b&0x8000) << 16
	exp := uint32(b&0x7C00) >> 10
	frac := uint32(b&0x03FF) << 13

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal
		f := float64(b&0x03FF) * math.Pow(2, -24)
		if sign != 0 {
			f = -f
		}
		return float32(f)
	case 0x1F:
		if frac == 0 {
			if sign != 0 {
				return float32(math.Inf(-1))
			}
			return float32(math.Inf(1))
		}
		return float32(math.NaN())
	}

	return math.Float32frombits(sign | ((exp + 112) << 23) | frac)
}

// Uint reads an integer metadata value regardless of its stored width.
func (f *GGUFFile) Uint(key string) (uint64, error) {
	switch v := f.KV[key].(type) {
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	case int32:
		if v >= 0 {
			return uint64(v), nil
		}
	case int64:
		if v >= 0 {
			return uint64(v), nil
		}
	case nil:
		return 0, fmt.Errorf("metadata %s not found", key)
	}
	return 0, fmt.Errorf("metadata %s: %T is not an unsigned integer", key, f.KV[key])
}

// Float reads a floating point metadata value.
func (f *GGUFFile) Float(key string) (float64, error) {
	switch v := f.KV[key].(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case nil:
		return 0, fmt.Errorf("metadata %s not found", key)
	}
	return 0, fmt.Errorf("metadata %s: %T is not a float", key, f.KV[key])
}

// String reads a string metadata value, or "" when absent.
func (f *GGUFFile) String(key string) string {
	s, _ := f.KV[key].(string)
	return s
}

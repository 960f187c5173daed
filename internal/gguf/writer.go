package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// F32Tensor is a tensor to be written. Dims are ggml order, fastest first.
type F32Tensor struct {
	Name string
	Dims []uint64
	Data []float32
}

// Write serializes a version 3 GGUF file with F32 tensors. Metadata keys are
// written in sorted order so output is byte-stable.
func Write(w io.Writer, kv map[string]interface{}, tensors []F32Tensor) error {
	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	put := func(v interface{}) {
		_ = binary.Write(bw, le, v)
	}
	putStr := func(s string) {
		put(uint64(len(s)))
		_, _ = bw.WriteString(s)
	}

	put(uint32(GGUFMagic))
	put(uint32(GGUFVersion))
	put(uint64(len(tensors)))
	put(uint64(len(kv)))

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := uint64(24)
	for _, k := range keys {
		putStr(k)
		n, err := writeValue(bw, kv[k])
		if err != nil {
			return fmt.Errorf("metadata %s: %w", k, err)
		}
		written += 8 + uint64(len(k)) + n
	}

	offsets := make([]uint64, len(tensors))
	dataLen := uint64(0)
	for i, t := range tensors {
		n := uint64(1)
		for _, d := range t.Dims {
			n *= d
		}
		if n != uint64(len(t.Data)) {
			return fmt.Errorf("tensor %s: dims hold %d elements, data has %d", t.Name, n, len(t.Data))
		}
		offsets[i] = dataLen
		dataLen += align(n*4, DefaultAlignment)

		putStr(t.Name)
		put(uint32(len(t.Dims)))
		for _, d := range t.Dims {
			put(d)
		}
		put(uint32(GGMLTypeF32))
		put(offsets[i])
		written += 8 + uint64(len(t.Name)) + 4 + 8*uint64(len(t.Dims)) + 4 + 8
	}

	if pad := align(written, DefaultAlignment) - written; pad > 0 {
		_, _ = bw.Write(make([]byte, pad))
	}

	for _, t := range tensors {
		for _, v := range t.Data {
			put(math.Float32bits(v))
		}
		size := uint64(len(t.Data)) * 4
		if pad := align(size, DefaultAlignment) - size; pad > 0 {
			_, _ = bw.Write(make([]byte, pad))
		}
	}

	return bw.Flush()
}

func align(n, a uint64) uint64 {
	return (n + a - 1) / a * a
}

// writeValue emits the type tag and payload, returning the bytes written.
func writeValue(w io.Writer, v interface{}) (uint64, error) {
	le := binary.LittleEndian
	tag := func(t GGUFMetadataValueType) { _ = binary.Write(w, le, uint32(t)) }

	switch x := v.(type) {
	case uint32:
		tag(GGUFMetadataValueTypeUint32)
		return 8, binary.Write(w, le, x)
	case int32:
		tag(GGUFMetadataValueTypeInt32)
		return 8, binary.Write(w, le, x)
	case uint64:
		tag(GGUFMetadataValueTypeUint64)
		return 12, binary.Write(w, le, x)
	case float32:
		tag(GGUFMetadataValueTypeFloat32)
		return 8, binary.Write(w, le, math.Float32bits(x))
	case float64:
		tag(GGUFMetadataValueTypeFloat64)
		return 12, binary.Write(w, le, math.Float64bits(x))
	case bool:
		tag(GGUFMetadataValueTypeBool)
		b := uint8(0)
		if x {
			b = 1
		}
		return 5, binary.Write(w, le, b)
	case string:
		tag(GGUFMetadataValueTypeString)
		_ = binary.Write(w, le, uint64(len(x)))
		_, err := io.WriteString(w, x)
		return 4 + 8 + uint64(len(x)), err
	case []string:
		tag(GGUFMetadataValueTypeArray)
		_ = binary.Write(w, le, uint32(GGUFMetadataValueTypeString))
		_ = binary.Write(w, le, uint64(len(x)))
		n := uint64(4 + 4 + 8)
		for _, s := range x {
			_ = binary.Write(w, le, uint64(len(s)))
			if _, err := io.WriteString(w, s); err != nil {
				return n, err
			}
			n += 8 + uint64(len(s))
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported metadata value %T", v)
	}
}

package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"syscall"

	"github.com/23skdu/hopsurprisal/internal/logger"
)

// LoadFile maps a GGUF file into memory and parses headers/metadata.
func LoadFile(path string) (*GGUFFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() // the mapping outlives the descriptor
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size < 24 { // Minimal header size check
		return nil, io.ErrUnexpectedEOF
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	file, err := Parse(data)
	if err != nil {
		_ = syscall.Munmap(data)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Log.Debug("GGUF loaded", "path", path, "version", file.Header.Version,
		"tensors", file.Header.TensorCount, "kv", file.Header.KVCount)
	return file, nil
}

// Parse decodes a complete GGUF image already in memory. Tensor data slices
// alias data.
func Parse(data []byte) (*GGUFFile, error) {
	file := &GGUFFile{
		Data:   data,
		KV:     make(map[string]interface{}),
		byName: make(map[string]*TensorInfo),
	}
	r := &cursor{data: data}

	file.Header.Magic = r.u32()
	if r.err == nil && file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}
	file.Header.Version = r.u32()
	if r.err == nil && (file.Header.Version < 2 || file.Header.Version > 3) {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}
	file.Header.TensorCount = r.u64()
	file.Header.KVCount = r.u64()

	for i := uint64(0); i < file.Header.KVCount && r.err == nil; i++ {
		k := r.str()
		typ := GGUFMetadataValueType(r.u32())
		v := r.value(typ)
		file.KV[k] = v
	}

	for i := uint64(0); i < file.Header.TensorCount && r.err == nil; i++ {
		name := r.str()
		dims := r.u32()
		if dims > 4 {
			return nil, fmt.Errorf("tensor %s: %d dimensions", name, dims)
		}
		dimArr := make([]uint64, dims)
		for j := range dimArr {
			dimArr[j] = r.u64()
		}
		typ := GGMLType(r.u32())
		off := r.u64()

		t := &TensorInfo{Name: name, Dimensions: dimArr, Type: typ, Offset: off}
		file.Tensors = append(file.Tensors, t)
		file.byName[name] = t
	}
	if r.err != nil {
		return nil, r.err
	}

	alignment := uint64(DefaultAlignment)
	if v, ok := file.KV["general.alignment"].(uint32); ok && v > 0 {
		alignment = uint64(v)
	}

	offset := r.off
	if pad := offset % alignment; pad != 0 {
		offset += alignment - pad
	}
	file.DataOffset = offset

	for _, t := range file.Tensors {
		abs := offset + t.Offset
		end := abs + t.SizeBytes()
		if abs > uint64(len(data)) || end > uint64(len(data)) {
			return nil, fmt.Errorf("tensor %s: data out of bounds", t.Name)
		}
		t.Data = data[abs:end]
	}

	return file, nil
}

func (f *GGUFFile) Close() error {
	if f.Data == nil {
		return nil
	}
	err := syscall.Munmap(f.Data)
	f.Data = nil
	return err
}

// Tensor looks a tensor up by name.
func (f *GGUFFile) Tensor(name string) (*TensorInfo, bool) {
	t, ok := f.byName[name]
	return t, ok
}

// cursor is a bounds-checked little-endian reader; the first short read sticks.
type cursor struct {
	data []byte
	off  uint64
	err  error
}

func (c *cursor) need(n uint64) bool {
	if c.err != nil {
		return false
	}
	if c.off+n > uint64(len(c.data)) {
		c.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.data[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.data[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v
}

func (c *cursor) u64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(c.data[c.off:])
	c.off += 8
	return v
}

func (c *cursor) str() string {
	n := c.u64()
	if !c.need(n) {
		return ""
	}
	s := string(c.data[c.off : c.off+n])
	c.off += n
	return s
}

func (c *cursor) value(typ GGUFMetadataValueType) interface{} {
	switch typ {
	case GGUFMetadataValueTypeUint8:
		return c.u8()
	case GGUFMetadataValueTypeInt8:
		return int8(c.u8())
	case GGUFMetadataValueTypeUint16:
		return c.u16()
	case GGUFMetadataValueTypeInt16:
		return int16(c.u16())
	case GGUFMetadataValueTypeUint32:
		return c.u32()
	case GGUFMetadataValueTypeInt32:
		return int32(c.u32())
	case GGUFMetadataValueTypeFloat32:
		return math.Float32frombits(c.u32())
	case GGUFMetadataValueTypeBool:
		return c.u8() != 0
	case GGUFMetadataValueTypeString:
		return c.str()
	case GGUFMetadataValueTypeArray:
		elemType := GGUFMetadataValueType(c.u32())
		n := c.u64()
		if c.err != nil {
			return nil
		}
		if n > uint64(len(c.data)) {
			c.err = fmt.Errorf("array length %d exceeds file size", n)
			return nil
		}
		arr := make([]interface{}, 0, n)
		for i := uint64(0); i < n && c.err == nil; i++ {
			arr = append(arr, c.value(elemType))
		}
		return arr
	case GGUFMetadataValueTypeUint64:
		return c.u64()
	case GGUFMetadataValueTypeInt64:
		return int64(c.u64())
	case GGUFMetadataValueTypeFloat64:
		return math.Float64frombits(c.u64())
	default:
		if c.err == nil {
			c.err = fmt.Errorf("unsupported metadata type: %d", typ)
		}
		return nil
	}
}

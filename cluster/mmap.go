package cluster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MMapWriter writes little endian values into a mapped region.
type MMapWriter struct {
	data   mmap.MMap
	offset int
}

func NewMMapWriter(data mmap.MMap) *MMapWriter {
	return &MMapWriter{data: data}
}

func (w *MMapWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], v)
	w.offset += 4
}

func (w *MMapWriter) WriteFloat64(v float64) {
	binary.LittleEndian.PutUint64(w.data[w.offset:], math.Float64bits(v))
	w.offset += 8
}

func (w *MMapWriter) WriteBytes(b []byte) {
	copy(w.data[w.offset:], b)
	w.offset += len(b)
}

func (w *MMapWriter) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.WriteBytes([]byte(s))
}

// MMapReader reads little endian values from a mapped region. Reading past
// the end sets a sticky io.ErrUnexpectedEOF and yields zero values.
type MMapReader struct {
	data   mmap.MMap
	offset int
	err    error
}

func NewMMapReader(data mmap.MMap) *MMapReader {
	return &MMapReader{data: data}
}

func (r *MMapReader) Err() error {
	return r.err
}

func (r *MMapReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.offset+n > len(r.data) {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *MMapReader) ReadUint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *MMapReader) ReadFloat64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// ReadBytes returns a copy, the mapping is gone once loading finishes.
func (r *MMapReader) ReadBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *MMapReader) ReadString() string {
	n := r.ReadUint32()
	return string(r.take(int(n)))
}

// pointFileSize returns the exact size of the raw file for points together
// with the encoded metadata values, so they are marshalled only once.
func pointFileSize(points []Point) (int64, [][][2][]byte, error) {
	size := int64(len(pointFileMagic) + 8)
	encoded := make([][][2][]byte, len(points))

	for i, p := range points {
		size += 16
		size += 4 + int64(len(p.ID))
		size += 4 + int64(len(p.Title))
		size += 4 + int64(len(p.Snippet))
		size += 4

		for k, v := range p.Metadata {
			valueBytes, err := json.Marshal(v)
			if err != nil {
				return 0, nil, fmt.Errorf("failed to marshal metadata value: %w", err)
			}
			encoded[i] = append(encoded[i], [2][]byte{[]byte(k), valueBytes})
			size += 4 + int64(len(k)) + 4 + int64(len(valueBytes))
		}
	}
	return size, encoded, nil
}

// SavePointsMMap writes points uncompressed through a memory mapping, in the
// same layout SavePoints compresses.
func SavePointsMMap(filename string, points []Point) error {
	size, metadata, err := pointFileSize(points)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}

	mmapData, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	writer := NewMMapWriter(mmapData)
	writer.WriteBytes([]byte(pointFileMagic))
	writer.WriteUint32(pointFileVersion)
	writer.WriteUint32(uint32(len(points)))

	for i, p := range points {
		writer.WriteFloat64(p.Latitude)
		writer.WriteFloat64(p.Longitude)
		writer.WriteString(p.ID)
		writer.WriteString(p.Title)
		writer.WriteString(p.Snippet)

		writer.WriteUint32(uint32(len(metadata[i])))
		for _, kv := range metadata[i] {
			writer.WriteUint32(uint32(len(kv[0])))
			writer.WriteBytes(kv[0])
			writer.WriteUint32(uint32(len(kv[1])))
			writer.WriteBytes(kv[1])
		}
	}

	if err := mmapData.Flush(); err != nil {
		return fmt.Errorf("failed to flush mapping: %w", err)
	}
	return nil
}

// LoadPointsMMap reads a raw point file by mapping it into memory.
func LoadPointsMMap(filename string) ([]Point, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	mmapData, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	defer mmapData.Unmap()

	reader := NewMMapReader(mmapData)
	if string(reader.ReadBytes(len(pointFileMagic))) != pointFileMagic {
		return nil, ErrBadPointFile
	}
	if v := reader.ReadUint32(); v != pointFileVersion {
		return nil, fmt.Errorf("unsupported point file version %d", v)
	}
	count := reader.ReadUint32()

	points := make([]Point, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		p := Point{
			Latitude:  reader.ReadFloat64(),
			Longitude: reader.ReadFloat64(),
			ID:        reader.ReadString(),
			Title:     reader.ReadString(),
			Snippet:   reader.ReadString(),
		}

		metadataSize := reader.ReadUint32()
		if metadataSize > 0 && reader.Err() == nil {
			p.Metadata = make(map[string]interface{}, min(metadataSize, 64))
		}
		for j := uint32(0); j < metadataSize && reader.Err() == nil; j++ {
			key := reader.ReadString()
			valueBytes := reader.ReadBytes(int(reader.ReadUint32()))
			if reader.Err() != nil {
				break
			}
			var value interface{}
			if err := json.Unmarshal(valueBytes, &value); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata value: %w", err)
			}
			p.Metadata[key] = value
		}

		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("failed to read point %d: %w", i, err)
		}
		points = append(points, p)
	}
	return points, nil
}

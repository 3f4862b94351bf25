package cluster

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Point files hold a batch of points for the point source. The layout is the
// same whether the file is zstd-compressed or mapped raw:
//
//	magic "CMPT" | version uint32 | count uint32 | count × point
//	point: lat float64 | lon float64 | id, title, snippet | metadata
//	string: len uint32 | bytes
//	metadata: n uint32 | n × (key string | JSON value string)
//
// All integers and floats are little endian.
const (
	pointFileMagic   = "CMPT"
	pointFileVersion = 1

	// maxFieldSize guards allocations against corrupt length prefixes.
	maxFieldSize = 16 << 20
)

var ErrBadPointFile = errors.New("not a point file")

func SavePoints(filename string, points []Point) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}

	if err := writePoints(enc, points); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return file.Sync()
}

func LoadPoints(filename string) ([]Point, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	dec, err := zstd.NewReader(bufio.NewReaderSize(file, 1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	return readPoints(dec)
}

// pointWriter keeps the first write error so the encoding code stays linear.
type pointWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (pw *pointWriter) uint32(v uint32) {
	if pw.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(pw.buf[:4], v)
	_, pw.err = pw.w.Write(pw.buf[:4])
}

func (pw *pointWriter) float64(v float64) {
	if pw.err != nil {
		return
	}
	binary.LittleEndian.PutUint64(pw.buf[:], math.Float64bits(v))
	_, pw.err = pw.w.Write(pw.buf[:])
}

func (pw *pointWriter) bytes(b []byte) {
	pw.uint32(uint32(len(b)))
	if pw.err != nil {
		return
	}
	_, pw.err = pw.w.Write(b)
}

func writePoints(w io.Writer, points []Point) error {
	pw := &pointWriter{w: w}
	if _, err := io.WriteString(w, pointFileMagic); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	pw.uint32(pointFileVersion)
	pw.uint32(uint32(len(points)))

	for _, p := range points {
		pw.float64(p.Latitude)
		pw.float64(p.Longitude)
		pw.bytes([]byte(p.ID))
		pw.bytes([]byte(p.Title))
		pw.bytes([]byte(p.Snippet))

		pw.uint32(uint32(len(p.Metadata)))
		for k, v := range p.Metadata {
			valueBytes, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata value: %w", err)
			}
			pw.bytes([]byte(k))
			pw.bytes(valueBytes)
		}
	}

	if pw.err != nil {
		return fmt.Errorf("failed to write points: %w", pw.err)
	}
	return nil
}

func readPoints(r io.Reader) ([]Point, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header[:4]) != pointFileMagic {
		return nil, ErrBadPointFile
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != pointFileVersion {
		return nil, fmt.Errorf("unsupported point file version %d", v)
	}
	count := binary.LittleEndian.Uint32(header[8:12])

	pr := &pointReader{r: r}
	points := make([]Point, 0, min(count, 1<<16))
	for i := uint32(0); i < count; i++ {
		p := pr.point()
		if pr.err != nil {
			return nil, fmt.Errorf("failed to read point %d: %w", i, pr.err)
		}
		points = append(points, p)
	}
	return points, nil
}

type pointReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (pr *pointReader) uint32() uint32 {
	if pr.err != nil {
		return 0
	}
	if _, pr.err = io.ReadFull(pr.r, pr.buf[:4]); pr.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(pr.buf[:4])
}

func (pr *pointReader) float64() float64 {
	if pr.err != nil {
		return 0
	}
	if _, pr.err = io.ReadFull(pr.r, pr.buf[:]); pr.err != nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(pr.buf[:]))
}

func (pr *pointReader) bytes() []byte {
	n := pr.uint32()
	if pr.err != nil {
		return nil
	}
	if n > maxFieldSize {
		pr.err = fmt.Errorf("field of %d bytes exceeds limit", n)
		return nil
	}
	b := make([]byte, n)
	_, pr.err = io.ReadFull(pr.r, b)
	return b
}

func (pr *pointReader) point() Point {
	p := Point{
		Latitude:  pr.float64(),
		Longitude: pr.float64(),
		ID:        string(pr.bytes()),
		Title:     string(pr.bytes()),
		Snippet:   string(pr.bytes()),
	}
	n := pr.uint32()
	if n > 0 && pr.err == nil {
		p.Metadata = make(map[string]interface{}, min(n, 64))
	}
	for j := uint32(0); j < n && pr.err == nil; j++ {
		key := string(pr.bytes())
		raw := pr.bytes()
		if pr.err != nil {
			break
		}
		var value interface{}
		if err := json.Unmarshal(raw, &value); err != nil {
			pr.err = fmt.Errorf("failed to unmarshal metadata value: %w", err)
			break
		}
		p.Metadata[key] = value
	}
	return p
}

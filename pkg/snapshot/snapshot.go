// Package snapshot exports and imports populations as JSON lines,
// optionally zstd-compressed.
//
// The first line is a header naming the format and the command system the
// genomes were evolved under; each following line is one individual.
package snapshot

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
)

// Format identifies snapshot files.
const (
	Format  = "genvm-population"
	Version = 1
)

var (
	// ErrUnsupportedVersion indicates an unknown snapshot format or version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrCorruptedData indicates a record does not match its genome ID.
	ErrCorruptedData = errors.New("corrupted snapshot data")

	// ErrSnapshotNotFound indicates no snapshot was found at the path.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrDecompressionFailed indicates zstd decompression failed.
	ErrDecompressionFailed = errors.New("decompression failed")
)

// Header is the first line of a snapshot.
type Header struct {
	Format            string    `json:"format"`
	Version           int       `json:"version"`
	CommandSystemHash string    `json:"command_system_hash"`
	Created           time.Time `json:"created"`
}

// record is the JSON line form of an individual.
type record struct {
	ID         types.GenomeID `json:"id"`
	Hexcode    string         `json:"hexcode"`
	Fitness    types.Fitness  `json:"fitness"`
	Generation uint64         `json:"generation"`
}

// IsCompressed reports whether path names a zstd snapshot.
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// Writer streams individuals into a snapshot.
type Writer struct {
	enc   *zstd.Encoder
	buf   *bufio.Writer
	json  *json.Encoder
	count int
}

// NewWriter writes the header to w and returns a Writer. When compressed
// is set the stream is zstd-encoded.
func NewWriter(w io.Writer, compressed bool) (*Writer, error) {
	sw := &Writer{}
	if compressed {
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		sw.enc = enc
		w = enc
	}
	sw.buf = bufio.NewWriter(w)
	sw.json = json.NewEncoder(sw.buf)

	h := Header{
		Format:            Format,
		Version:           Version,
		CommandSystemHash: gvm.CommandSystemHash(),
		Created:           time.Now().UTC(),
	}
	if err := sw.json.Encode(&h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return sw, nil
}

// Write appends one individual.
func (w *Writer) Write(ind *types.Individual) error {
	rec := record{
		ID:         ind.ID,
		Hexcode:    hex.EncodeToString(ind.Genome),
		Fitness:    ind.Fitness,
		Generation: ind.Generation,
	}
	if err := w.json.Encode(&rec); err != nil {
		return fmt.Errorf("write %s: %w", ind.ID.Short(), err)
	}
	w.count++
	return nil
}

// Count returns the number of individuals written.
func (w *Writer) Count() int {
	return w.count
}

// Close flushes the stream. It does not close the underlying writer.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.enc != nil {
		return w.enc.Close()
	}
	return nil
}

// Reader streams individuals out of a snapshot.
type Reader struct {
	dec    *zstd.Decoder
	scan   *bufio.Scanner
	header Header
	line   int
}

// maxLine bounds a single JSON line; genomes are hex encoded.
const maxLine = 16 << 20

// NewReader reads and checks the header from r.
func NewReader(r io.Reader, compressed bool) (*Reader, error) {
	sr := &Reader{}
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		sr.dec = dec
		r = dec
	}
	sr.scan = bufio.NewScanner(r)
	sr.scan.Buffer(make([]byte, 0, 64*1024), maxLine)

	if !sr.scan.Scan() {
		err := sr.scan.Err()
		sr.Close()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	sr.line = 1
	if err := json.Unmarshal(sr.scan.Bytes(), &sr.header); err != nil {
		sr.Close()
		return nil, fmt.Errorf("%w: bad header: %v", ErrUnsupportedVersion, err)
	}
	if sr.header.Format != Format || sr.header.Version != Version {
		sr.Close()
		return nil, fmt.Errorf("%w: %s v%d", ErrUnsupportedVersion, sr.header.Format, sr.header.Version)
	}
	return sr, nil
}

// Header returns the snapshot header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next individual, or io.EOF at the end.
func (r *Reader) Next() (*types.Individual, error) {
	for r.scan.Scan() {
		r.line++
		if len(strings.TrimSpace(r.scan.Text())) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(r.scan.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		genome, err := hex.DecodeString(rec.Hexcode)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		ind := types.NewIndividual(genome)
		if ind.ID != rec.ID {
			return nil, fmt.Errorf("%w: line %d: id %s does not match genome", ErrCorruptedData, r.line, rec.ID.Short())
		}
		ind.Fitness = rec.Fitness
		ind.Generation = rec.Generation
		return &ind, nil
	}
	if err := r.scan.Err(); err != nil {
		if r.dec != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		return nil, err
	}
	return nil, io.EOF
}

// Close releases the decoder. It does not close the underlying reader.
func (r *Reader) Close() {
	if r.dec != nil {
		r.dec.Close()
	}
}

// Export writes inds as a snapshot to w.
func Export(w io.Writer, inds []types.Individual, compressed bool) error {
	sw, err := NewWriter(w, compressed)
	if err != nil {
		return err
	}
	for i := range inds {
		if err := sw.Write(&inds[i]); err != nil {
			return err
		}
	}
	return sw.Close()
}

// Import reads a whole snapshot from r.
func Import(r io.Reader, compressed bool) (Header, []types.Individual, error) {
	sr, err := NewReader(r, compressed)
	if err != nil {
		return Header{}, nil, err
	}
	defer sr.Close()

	var out []types.Individual
	for {
		ind, err := sr.Next()
		if errors.Is(err, io.EOF) {
			return sr.Header(), out, nil
		}
		if err != nil {
			return sr.Header(), nil, err
		}
		out = append(out, *ind)
	}
}

// ExportFile writes inds to path, compressing when path ends in .zst.
func ExportFile(path string, inds []types.Individual) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := Export(f, inds, IsCompressed(path)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ImportFile reads the snapshot at path.
func ImportFile(path string) (Header, []types.Individual, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Header{}, nil, ErrSnapshotNotFound
		}
		return Header{}, nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Import(f, IsCompressed(path))
}

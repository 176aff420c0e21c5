package deduplication

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
)

const (
	indexMagic   = "DDIX"
	indexVersion = 1

	// magic + version + dim + model length
	fixedHeaderSize = 4 + 4 + 4 + 2
	maxModelNameLen = math.MaxUint16
)

// ErrEmptyIndex is returned by Search on an index without entries; callers
// special-case the empty index instead of searching it.
var ErrEmptyIndex = errors.New("search on empty index")

// Index is an exact inner-product similarity index over unit vectors.
// Entries are append-only: the position an entry receives on insertion is its
// identity for the lifetime of the index and entries are never changed or removed.
type Index struct {
	dim   int
	model string
	data  []float32 // row-major, Len()*dim values
}

// Header describes a persisted index without its vectors.
type Header struct {
	Version uint32 `json:"version"`
	Dim     int    `json:"dimension"`
	Model   string `json:"model"`
	Count   int    `json:"size"`
}

// NewIndex returns an empty index for dim-dimensional vectors produced by model.
func NewIndex(dim int, model string) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index dimension must be positive (got %d)", dim)
	}
	if len(model) > maxModelNameLen {
		return nil, fmt.Errorf("model name too long (%d bytes)", len(model))
	}
	return &Index{dim: dim, model: model}, nil
}

// LoadOrCreate reads the index persisted at path, or returns an empty index when
// no file exists there. An unreadable file, or one whose dimension differs from dim,
// is ErrCorruptIndex; one written for another model is ErrModelMismatch. A zero dim
// or empty model accepts whatever the file holds.
func LoadOrCreate(path string, dim int, model string) (*Index, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewIndex(dim, model)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorruptIndex, path, err)
	}

	idx, err := decodeIndex(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}
	if dim > 0 && idx.dim != dim {
		return nil, fmt.Errorf("%w: %s has dimension %d, expected %d", ErrCorruptIndex, path, idx.dim, dim)
	}
	if model != "" && idx.model != model {
		return nil, fmt.Errorf("%w: %s was built with %q, current model is %q", ErrModelMismatch, path, idx.model, model)
	}
	return idx, nil
}

// ReadHeader reads only the header of a persisted index.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, path, err)
	}
	return h, nil
}

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.data) / ix.dim }

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// Model returns the embedding model the index was built with.
func (ix *Index) Model() string { return ix.model }

// Header returns the index metadata.
func (ix *Index) Header() Header {
	return Header{Version: indexVersion, Dim: ix.dim, Model: ix.model, Count: ix.Len()}
}

// Vector returns a copy of the entry at pos.
func (ix *Index) Vector(pos int) []float32 {
	out := make([]float32, ix.dim)
	copy(out, ix.row(pos))
	return out
}

// Clone returns an independent copy of the index.
func (ix *Index) Clone() *Index {
	return &Index{dim: ix.dim, model: ix.model, data: append([]float32(nil), ix.data...)}
}

func (ix *Index) row(pos int) []float32 {
	return ix.data[pos*ix.dim : (pos+1)*ix.dim]
}

// Add appends vectors in order; they receive the next sequential positions.
// Adding no vectors is a no-op. Vectors are copied.
func (ix *Index) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), ix.dim)
		}
	}
	for _, v := range vectors {
		ix.data = append(ix.data, v...)
	}
	return nil
}

// Search returns, for every query, the k most similar entries by inner product in
// descending score order. Equal scores keep the lower position first. k larger than
// the index is clamped.
func (ix *Index) Search(queries [][]float32, k int) ([][]float32, [][]int, error) {
	n := ix.Len()
	if n == 0 {
		return nil, nil, ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil, fmt.Errorf("k must be positive (got %d)", k)
	}
	if k > n {
		k = n
	}

	scores := make([][]float32, len(queries))
	positions := make([][]int, len(queries))
	for qi, q := range queries {
		if len(q) != ix.dim {
			return nil, nil, fmt.Errorf("query %d has dimension %d, index expects %d", qi, len(q), ix.dim)
		}

		topScores := make([]float32, 0, k)
		topPos := make([]int, 0, k)
		for pos := 0; pos < n; pos++ {
			s := Dot(q, ix.row(pos))
			if len(topScores) == k && s <= topScores[k-1] {
				continue
			}
			// insertion point after every score >= s
			at := len(topScores)
			for at > 0 && topScores[at-1] < s {
				at--
			}
			if len(topScores) < k {
				topScores = append(topScores, 0)
				topPos = append(topPos, 0)
			}
			copy(topScores[at+1:], topScores[at:len(topScores)-1])
			copy(topPos[at+1:], topPos[at:len(topPos)-1])
			topScores[at] = s
			topPos[at] = pos
		}
		scores[qi] = topScores
		positions[qi] = topPos
	}
	return scores, positions, nil
}

// Persist writes the whole index to path atomically.
func (ix *Index) Persist(path string) error {
	return WriteFileAtomic(path, func(w io.Writer) error {
		return ix.encode(w)
	})
}

func (ix *Index) encode(w io.Writer) error {
	sum := crc32.NewIEEE()
	mw := io.MultiWriter(w, sum)

	header := make([]byte, 0, fixedHeaderSize+len(ix.model)+8)
	header = append(header, indexMagic...)
	header = binary.LittleEndian.AppendUint32(header, indexVersion)
	header = binary.LittleEndian.AppendUint32(header, uint32(ix.dim))
	header = binary.LittleEndian.AppendUint16(header, uint16(len(ix.model)))
	header = append(header, ix.model...)
	header = binary.LittleEndian.AppendUint64(header, uint64(ix.Len()))
	if _, err := mw.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 0, 4*4096)
	for _, x := range ix.data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
		if len(buf) == cap(buf) {
			if _, err := mw.Write(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if _, err := mw.Write(buf); err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, sum.Sum32())
}

func readHeader(r io.Reader) (Header, error) {
	fixed := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return Header{}, fmt.Errorf("truncated header: %v", err)
	}
	if string(fixed[:4]) != indexMagic {
		return Header{}, fmt.Errorf("bad magic %q", fixed[:4])
	}
	h := Header{
		Version: binary.LittleEndian.Uint32(fixed[4:8]),
		Dim:     int(binary.LittleEndian.Uint32(fixed[8:12])),
	}
	if h.Version != indexVersion {
		return Header{}, fmt.Errorf("unsupported version %d", h.Version)
	}
	if h.Dim <= 0 {
		return Header{}, fmt.Errorf("invalid dimension %d", h.Dim)
	}

	model := make([]byte, binary.LittleEndian.Uint16(fixed[12:14]))
	if _, err := io.ReadFull(r, model); err != nil {
		return Header{}, fmt.Errorf("truncated model name: %v", err)
	}
	h.Model = string(model)

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return Header{}, fmt.Errorf("truncated entry count: %v", err)
	}
	if count > math.MaxInt32 {
		return Header{}, fmt.Errorf("implausible entry count %d", count)
	}
	h.Count = int(count)
	return h, nil
}

func decodeIndex(data []byte) (*Index, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("file too short (%d bytes)", len(data))
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]

	r := bytes.NewReader(body)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	want := uint64(h.Count) * uint64(h.Dim) * 4
	if uint64(r.Len()) != want {
		return nil, fmt.Errorf("expected %d bytes of vectors for %d entries, found %d", want, h.Count, r.Len())
	}
	if got, stored := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(trailer); got != stored {
		return nil, fmt.Errorf("checksum mismatch (stored %08x, computed %08x)", stored, got)
	}

	raw := body[len(body)-r.Len():]
	vectors := make([]float32, h.Count*h.Dim)
	for i := range vectors {
		vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return &Index{dim: h.Dim, model: h.Model, data: vectors}, nil
}

package types

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidIndividual is returned when serialized individual data is malformed.
var ErrInvalidIndividual = errors.New("invalid individual data")

// Fitness scores a genome. Fields are compared in order and bigger is
// better, so every component except Main is a negated cost.
type Fitness struct {
	Main   float64 // 0 when the target was reached, otherwise minus the miss
	Evals  float64 // minus mean objective evaluations
	Steps  float64 // minus mean executed steps
	Length float64 // minus genome length in bytes
}

// Compare returns -1, 0 or +1 as f is worse than, equal to or better than g.
func (f Fitness) Compare(g Fitness) int {
	a, b := f.components(), g.components()
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// Better reports whether f ranks strictly above g.
func (f Fitness) Better(g Fitness) bool {
	return f.Compare(g) > 0
}

func (f Fitness) components() [4]float64 {
	return [4]float64{f.Main, f.Evals, f.Steps, f.Length}
}

func (f Fitness) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", f.Main, f.Evals, f.Steps, f.Length)
}

// MarshalJSON encodes the fitness as a four-element array.
func (f Fitness) MarshalJSON() ([]byte, error) {
	c := f.components()
	return json.Marshal(c[:])
}

// UnmarshalJSON decodes a four-element array.
func (f *Fitness) UnmarshalJSON(data []byte) error {
	var c []float64
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	if len(c) != 4 {
		return fmt.Errorf("fitness: want 4 components, got %d", len(c))
	}
	*f = Fitness{Main: c[0], Evals: c[1], Steps: c[2], Length: c[3]}
	return nil
}

// SortKey encodes the fitness so that bytewise ascending order is best
// first.
func (f Fitness) SortKey() []byte {
	key := make([]byte, 32)
	for i, c := range f.components() {
		binary.BigEndian.PutUint64(key[8*i:], ^orderedBits(c))
	}
	return key
}

// orderedBits maps a float64 to a uint64 with the same ordering.
func orderedBits(x float64) uint64 {
	b := math.Float64bits(x)
	if b&(1<<63) != 0 {
		return ^b
	}
	return b | 1<<63
}

// Individual is a scored genome.
type Individual struct {
	ID         GenomeID `json:"id"`
	Genome     []byte   `json:"-"`
	Fitness    Fitness  `json:"fitness"`
	Generation uint64   `json:"generation"`
}

// NewIndividual wraps genome, computing its ID.
func NewIndividual(genome []byte) Individual {
	return Individual{ID: ComputeGenomeID(genome), Genome: genome}
}

// Serialize encodes the individual in a compact binary format:
// generation (8), fitness (4x8), genome length (4), genome.
// The ID is the storage key and is not repeated.
func (ind *Individual) Serialize() []byte {
	buf := make([]byte, 8+32+4+len(ind.Genome))
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], ind.Generation)
	offset += 8

	for _, c := range ind.Fitness.components() {
		binary.LittleEndian.PutUint64(buf[offset:], math.Float64bits(c))
		offset += 8
	}

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(ind.Genome)))
	offset += 4

	copy(buf[offset:], ind.Genome)
	return buf
}

// DeserializeIndividual decodes data written by Serialize. The ID is
// recomputed from the genome.
func DeserializeIndividual(data []byte) (*Individual, error) {
	if len(data) < 44 {
		return nil, ErrInvalidIndividual
	}
	ind := &Individual{}
	offset := 0

	ind.Generation = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	var c [4]float64
	for i := range c {
		c[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
	}
	ind.Fitness = Fitness{Main: c[0], Evals: c[1], Steps: c[2], Length: c[3]}

	n := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	if len(data)-offset != n {
		return nil, ErrInvalidIndividual
	}
	ind.Genome = append([]byte(nil), data[offset:]...)
	ind.ID = ComputeGenomeID(ind.Genome)
	return ind, nil
}

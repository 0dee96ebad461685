package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"testing"
)

func TestGenomeIDRoundTrip(t *testing.T) {
	id := ComputeGenomeID([]byte{1, 2, 3})
	if id.IsZero() {
		t.Fatal("ComputeGenomeID returned zero id")
	}
	if id == ComputeGenomeID([]byte{1, 2, 4}) {
		t.Error("different genomes share an id")
	}

	parsed, err := GenomeIDFromBase58(id.String())
	if err != nil {
		t.Fatalf("GenomeIDFromBase58() failed: %v", err)
	}
	if parsed != id {
		t.Errorf("GenomeIDFromBase58(String()) = %s, want %s", parsed, id)
	}

	if _, err := GenomeIDFromBytes([]byte{1, 2}); !errors.Is(err, ErrInvalidGenomeID) {
		t.Errorf("GenomeIDFromBytes(short) = %v, want ErrInvalidGenomeID", err)
	}
	if len(id.Short()) != 8 {
		t.Errorf("Short() = %q", id.Short())
	}
}

func TestGenomeIDText(t *testing.T) {
	id := ComputeGenomeID([]byte("genome"))
	data, err := json.Marshal(map[string]GenomeID{"id": id})
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	var back map[string]GenomeID
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if back["id"] != id {
		t.Errorf("text round trip = %s, want %s", back["id"], id)
	}
}

func TestGenomeText(t *testing.T) {
	genome := []byte{0, 0, 23, 5, 255}
	back, err := DecodeGenome(EncodeGenome(genome))
	if err != nil {
		t.Fatalf("DecodeGenome() failed: %v", err)
	}
	if !bytes.Equal(back, genome) {
		t.Errorf("DecodeGenome(EncodeGenome()) = %v, want %v", back, genome)
	}
}

func TestVectorArithmetic(t *testing.T) {
	a, b := Vec(1, 2), Vec(-3, 0.5)
	if got := a.Add(b); got != Vec(-2, 2.5) {
		t.Errorf("Add() = %v", got)
	}
	if got := a.Sub(b); got != Vec(4, 1.5) {
		t.Errorf("Sub() = %v", got)
	}
	if got := a.Scale(2); got != Vec(2, 4) {
		t.Errorf("Scale() = %v", got)
	}
	if got := a.AddScaled(0.5, b); got != Vec(-0.5, 2.25) {
		t.Errorf("AddScaled() = %v", got)
	}
	if got := b.Norm(); got != 3.5 {
		t.Errorf("Norm() = %g, want 3.5", got)
	}
	if got := a.String(); got != "{1,2}" {
		t.Errorf("String() = %q", got)
	}
}

func TestPoint(t *testing.T) {
	p := Point{X: Vec(1, 1), F: 3, Evaluated: true}
	if got := p.String(); got != "{1,1}:3" {
		t.Errorf("String() = %q", got)
	}
	p.Set(Vec(0, 0))
	if p.Evaluated {
		t.Error("Set kept the cached value")
	}
	if got := p.String(); got != "{0,0}:?" {
		t.Errorf("String() = %q", got)
	}
}

func TestFitnessCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Fitness
		want int
	}{
		{"equal", Fitness{0, -5, -10, -20}, Fitness{0, -5, -10, -20}, 0},
		{"main dominates", Fitness{-1, 0, 0, 0}, Fitness{-2, -100, -100, -100}, 1},
		{"evals break ties", Fitness{0, -5, -100, -100}, Fitness{0, -6, 0, 0}, 1},
		{"length last", Fitness{0, -5, -10, -21}, Fitness{0, -5, -10, -20}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare() = %d, want %d", got, tt.want)
			}
			if got := tt.b.Compare(tt.a); got != -tt.want {
				t.Errorf("reverse Compare() = %d, want %d", got, -tt.want)
			}
		})
	}
}

func TestFitnessSortKey(t *testing.T) {
	fs := []Fitness{
		{-1e100, 0, 0, -10},
		{0, -3, -50, -8},
		{-0.5, -1000, -10000, -500},
		{0, -3, -40, -8},
		{-0.25, 0, 0, 0},
		{math.Inf(-1), 0, 0, 0},
	}
	byCompare := append([]Fitness(nil), fs...)
	sort.Slice(byCompare, func(i, j int) bool { return byCompare[i].Better(byCompare[j]) })

	byKey := append([]Fitness(nil), fs...)
	sort.Slice(byKey, func(i, j int) bool {
		return bytes.Compare(byKey[i].SortKey(), byKey[j].SortKey()) < 0
	})

	for i := range fs {
		if byKey[i] != byCompare[i] {
			t.Fatalf("position %d: key order %v, compare order %v", i, byKey[i], byCompare[i])
		}
	}
}

func TestFitnessJSON(t *testing.T) {
	f := Fitness{-0.5, -10, -200, -48}
	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}
	if string(data) != "[-0.5,-10,-200,-48]" {
		t.Errorf("Marshal() = %s", data)
	}
	var back Fitness
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if back != f {
		t.Errorf("Unmarshal() = %v, want %v", back, f)
	}
	if err := json.Unmarshal([]byte("[1,2]"), &back); err == nil {
		t.Error("Unmarshal() accepted two components")
	}
}

func TestIndividualSerialize(t *testing.T) {
	ind := NewIndividual([]byte{8, 16, 23, 1, 17, 1})
	ind.Fitness = Fitness{-0.125, -12, -300, -6}
	ind.Generation = 42

	back, err := DeserializeIndividual(ind.Serialize())
	if err != nil {
		t.Fatalf("DeserializeIndividual() failed: %v", err)
	}
	if back.ID != ind.ID || back.Fitness != ind.Fitness || back.Generation != 42 {
		t.Errorf("DeserializeIndividual() = %+v, want %+v", back, ind)
	}
	if !bytes.Equal(back.Genome, ind.Genome) {
		t.Errorf("genome = %v, want %v", back.Genome, ind.Genome)
	}

	data := ind.Serialize()
	if _, err := DeserializeIndividual(data[:len(data)-1]); !errors.Is(err, ErrInvalidIndividual) {
		t.Errorf("truncated data: %v, want ErrInvalidIndividual", err)
	}
	if _, err := DeserializeIndividual(nil); !errors.Is(err, ErrInvalidIndividual) {
		t.Errorf("empty data: %v, want ErrInvalidIndividual", err)
	}
}

package snapshot

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
)

func testPopulation() []types.Individual {
	var inds []types.Individual
	for i := 0; i < 25; i++ {
		genome := bytes.Repeat([]byte{byte(i), byte(2 * i)}, i+1)
		ind := types.NewIndividual(genome)
		ind.Fitness = types.Fitness{Main: -float64(i) / 8, Evals: -50, Steps: -float64(100 * i), Length: -float64(len(genome))}
		ind.Generation = uint64(i % 4)
		inds = append(inds, ind)
	}
	return inds
}

func checkSame(t *testing.T, got, want []types.Individual) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("imported %d individuals, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Fitness != want[i].Fitness ||
			got[i].Generation != want[i].Generation || !bytes.Equal(got[i].Genome, want[i].Genome) {
			t.Errorf("individual %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExportImport(t *testing.T) {
	for _, compressed := range []bool{false, true} {
		name := "plain"
		if compressed {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			inds := testPopulation()
			var buf bytes.Buffer
			if err := Export(&buf, inds, compressed); err != nil {
				t.Fatalf("Export() failed: %v", err)
			}
			if !compressed && !strings.HasPrefix(buf.String(), `{"format":"genvm-population"`) {
				t.Errorf("plain snapshot does not start with the header: %.60s", buf.String())
			}

			h, got, err := Import(&buf, compressed)
			if err != nil {
				t.Fatalf("Import() failed: %v", err)
			}
			if h.CommandSystemHash != gvm.CommandSystemHash() {
				t.Errorf("header hash = %q", h.CommandSystemHash)
			}
			checkSame(t, got, inds)
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	inds := testPopulation()
	path := filepath.Join(t.TempDir(), "pop.jsonl.zst")
	if err := ExportFile(path, inds); err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	_, got, err := ImportFile(path)
	if err != nil {
		t.Fatalf("ImportFile() failed: %v", err)
	}
	checkSame(t, got, inds)

	if _, _, err := ImportFile(filepath.Join(t.TempDir(), "missing.jsonl")); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("ImportFile(missing) = %v, want ErrSnapshotNotFound", err)
	}
}

func TestStreaming(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, true)
	if err != nil {
		t.Fatalf("NewWriter() failed: %v", err)
	}
	inds := testPopulation()
	for i := range inds {
		if err := w.Write(&inds[i]); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
	}
	if w.Count() != len(inds) {
		t.Errorf("Count() = %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	r, err := NewReader(&buf, true)
	if err != nil {
		t.Fatalf("NewReader() failed: %v", err)
	}
	defer r.Close()
	n := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		n++
	}
	if n != len(inds) {
		t.Errorf("read %d individuals, want %d", n, len(inds))
	}
}

func TestImportRejects(t *testing.T) {
	genome := []byte{1, 2}
	other := types.ComputeGenomeID([]byte{3, 4})

	tests := []struct {
		name  string
		input string
		err   error
	}{
		{
			name:  "wrong format",
			input: `{"format":"something-else","version":1}` + "\n",
			err:   ErrUnsupportedVersion,
		},
		{
			name:  "future version",
			input: `{"format":"genvm-population","version":9}` + "\n",
			err:   ErrUnsupportedVersion,
		},
		{
			name: "id mismatch",
			input: `{"format":"genvm-population","version":1}` + "\n" +
				`{"id":"` + other.String() + `","hexcode":"0102","fitness":[0,0,0,-2],"generation":1}` + "\n",
			err: ErrCorruptedData,
		},
		{
			name:  "empty",
			input: "",
			err:   io.ErrUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Import(strings.NewReader(tt.input), false)
			if !errors.Is(err, tt.err) {
				t.Errorf("Import() = %v, want %v", err, tt.err)
			}
		})
	}

	ok := `{"format":"genvm-population","version":1}` + "\n\n" +
		`{"id":"` + types.ComputeGenomeID(genome).String() + `","hexcode":"0102","fitness":[0,0,0,-2],"generation":1}` + "\n"
	_, got, err := Import(strings.NewReader(ok), false)
	if err != nil || len(got) != 1 {
		t.Errorf("Import() = %v, %v, want one individual", got, err)
	}
}

package asm

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/genvm/internal/types"
	"github.com/fortiblox/genvm/pkg/gvm"
)

// ErrNoCode is returned for genome files without a code field.
var ErrNoCode = errors.New("genome file has no hexcode, bincode or base58 field")

// GenomeFile is the JSON form of a saved genome.
type GenomeFile struct {
	Hexcode           string    `json:"hexcode,omitempty"`
	Bincode           []byte    `json:"-"`
	Base58            string    `json:"base58,omitempty"`
	CommandSystemHash string    `json:"command_system_hash,omitempty"`
	ID                string    `json:"id,omitempty"`
	Generation        *int      `json:"generation,omitempty"`
	Fitness           []float64 `json:"fitness,omitempty"`
}

// rawGenomeFile accepts "bincode" as a list of byte values.
type rawGenomeFile struct {
	GenomeFile
	Bincode []int `json:"bincode,omitempty"`
}

// NewGenomeFile describes genome for the current command system.
func NewGenomeFile(genome []byte) *GenomeFile {
	return &GenomeFile{
		Hexcode:           hex.EncodeToString(genome),
		CommandSystemHash: gvm.CommandSystemHash(),
		ID:                types.ComputeGenomeID(genome).String(),
	}
}

// Code returns the genome bytes, preferring hexcode, then bincode, then
// base58.
func (f *GenomeFile) Code() ([]byte, error) {
	switch {
	case f.Hexcode != "":
		code, err := hex.DecodeString(f.Hexcode)
		if err != nil {
			return nil, fmt.Errorf("invalid hexcode: %w", err)
		}
		return code, nil
	case f.Bincode != nil:
		return append([]byte(nil), f.Bincode...), nil
	case f.Base58 != "":
		return types.DecodeGenome(f.Base58)
	}
	return nil, ErrNoCode
}

// ParseGenomeFile decodes a genome file. A missing or different command
// system hash is logged as a warning, since the code may behave
// differently under the current opcode table.
func ParseGenomeFile(data []byte, name string, log logrus.FieldLogger) ([]byte, *GenomeFile, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var raw rawGenomeFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	f := raw.GenomeFile
	if raw.Bincode != nil {
		f.Bincode = make([]byte, len(raw.Bincode))
		for i, b := range raw.Bincode {
			if b < 0 || b > 255 {
				return nil, nil, fmt.Errorf("%s: bincode[%d] = %d out of range", name, i, b)
			}
			f.Bincode[i] = byte(b)
		}
	}

	want := gvm.CommandSystemHash()
	switch f.CommandSystemHash {
	case "":
		log.WithField("file", name).Warn("Genome file specifies no command system")
	case want:
	default:
		log.WithFields(logrus.Fields{
			"file":     name,
			"file_cs":  f.CommandSystemHash,
			"expected": want,
		}).Warn("Genome file was written for a different command system")
	}

	code, err := f.Code()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return code, &f, nil
}

// ReadGenomeFile reads and parses the genome file at path.
func ReadGenomeFile(path string, log logrus.FieldLogger) ([]byte, *GenomeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return ParseGenomeFile(data, path, log)
}

// WriteGenomeFile writes f as indented JSON.
func WriteGenomeFile(path string, f *GenomeFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

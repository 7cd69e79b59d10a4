package analysis

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	apperrors "github.com/katlab/katcore/internal/errors"
	"github.com/katlab/katcore/internal/models"
)

// LibrarySource supplies the reference dataset when nothing is cached.
type LibrarySource interface {
	Fetch(ctx context.Context) (*models.ReferenceLibrary, error)
	Name() string
}

// The bundled dataset is a placeholder until a generated library replaces it.
//
//go:embed data/library.json
var embeddedLibrary []byte

// EmbeddedSource serves the dataset compiled into the binary.
type EmbeddedSource struct{}

// Fetch implements LibrarySource.
func (EmbeddedSource) Fetch(ctx context.Context) (*models.ReferenceLibrary, error) {
	return ParseLibrary(bytes.NewReader(embeddedLibrary))
}

// Name implements LibrarySource.
func (EmbeddedSource) Name() string {
	return "embedded"
}

// FileSource reads the dataset from a JSON file on disk.
type FileSource struct {
	Path string
}

// Fetch implements LibrarySource.
func (s FileSource) Fetch(ctx context.Context) (*models.ReferenceLibrary, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open library file: %w", err)
	}
	defer f.Close()
	return ParseLibrary(f)
}

// Name implements LibrarySource.
func (s FileSource) Name() string {
	return "file:" + s.Path
}

// SourceFor returns a FileSource for path, or the embedded dataset when path is empty.
func SourceFor(path string) LibrarySource {
	if path == "" {
		return EmbeddedSource{}
	}
	return FileSource{Path: path}
}

// ParseLibrary decodes {version, wavelengthAxis[], substances:[{name, data[]}]}.
// Every reference vector must match the axis length when an axis is given.
func ParseLibrary(r io.Reader) (*models.ReferenceLibrary, error) {
	var lib models.ReferenceLibrary
	if err := json.NewDecoder(r).Decode(&lib); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "decode reference library", err)
	}
	if lib.Substances == nil {
		lib.Substances = []models.ReferenceSpectrum{}
	}

	want := axisLength(&lib)
	for i, s := range lib.Substances {
		if s.Name == "" {
			return nil, apperrors.Validation(fmt.Sprintf("substance %d has no name", i))
		}
		if len(s.Data) != want {
			return nil, apperrors.Validation(fmt.Sprintf("substance %q has %d samples, expected %d", s.Name, len(s.Data), want))
		}
	}
	return &lib, nil
}

package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// ExceptionsHeader starts every exceptions file.
const ExceptionsHeader = `// objc-metadata exceptions file, see its documentation
// for information on how to update this file.
`

// GeneratedHeader returns the comment block written in front of a raw
// scan file.
func GeneratedHeader(now time.Time) string {
	return fmt.Sprintf(`//             GENERATED FILE DO NOT EDIT
//
// This file was generated by objc-metadata
// Last update: %s
`, now.Format(time.ANSIC))
}

type document[T any] struct {
	Definitions T `json:"definitions"`
}

// stripHeader removes the leading "//" comment lines.
func stripHeader(data []byte) []byte {
	for bytes.HasPrefix(data, []byte("//")) {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		data = data[i+1:]
	}
	return data
}

func decode[T any](r io.Reader, into T) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	doc := document[T]{Definitions: into}
	if err := json.Unmarshal(stripHeader(data), &doc); err != nil {
		return errors.Wrap(err, "decoding definitions")
	}
	return nil
}

func encode[T any](w io.Writer, header string, v T) error {
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	data, err := json.MarshalIndent(document[T]{Definitions: v}, "", " ")
	if err != nil {
		return errors.Wrap(err, "encoding definitions")
	}
	data = append(data, '\n')

	_, err = w.Write(data)
	return err
}

func ReadFramework(r io.Reader) (*FrameworkMetadata, error) {
	md := NewFrameworkMetadata()
	if err := decode(r, md); err != nil {
		return nil, err
	}
	return md, nil
}

func WriteFramework(w io.Writer, header string, md *FrameworkMetadata) error {
	return encode(w, header, md)
}

func ReadExceptions(r io.Reader) (*ExceptionData, error) {
	ex := NewExceptionData()
	if err := decode(r, ex); err != nil {
		return nil, err
	}
	return ex, nil
}

func WriteExceptions(w io.Writer, header string, ex *ExceptionData) error {
	return encode(w, header, ex)
}

// LoadFramework reads a fwinfo file.
func LoadFramework(path string) (*FrameworkMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "loading framework metadata")
	}
	defer f.Close()

	md, err := ReadFramework(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return md, nil
}

// LoadExceptions reads an exceptions file. Sections the exceptions model
// does not carry, such as classes, are ignored.
func LoadExceptions(path string) (*ExceptionData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "loading exceptions")
	}
	defer f.Close()

	ex, err := ReadExceptions(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return ex, nil
}

func SaveFramework(path, header string, md *FrameworkMetadata) error {
	return save(path, func(w io.Writer) error {
		return WriteFramework(w, header, md)
	})
}

func SaveExceptions(path, header string, ex *ExceptionData) error {
	return save(path, func(w io.Writer) error {
		return WriteExceptions(w, header, ex)
	})
}

// save replaces path atomically with what write produces.
func save(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "creating temporary file")
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

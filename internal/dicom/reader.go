package dicom

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Placeholder is returned by ReadText when an attribute is missing or unreadable.
const Placeholder = "Unknown"

// ErrNotDicom is returned when a file lacks the DICM preamble marker.
var ErrNotDicom = errors.New("not a DICOM file")

// Dataset wraps a DICOM dataset for easier access
type Dataset struct {
	Data     dicom.Dataset
	FilePath string
}

// ReadDicom reads a DICOM file and returns the dataset.
func ReadDicom(path string) (*Dataset, error) {
	return readDicom(path)
}

// ReadDicomMetadataOnly reads only the metadata (no pixel data).
func ReadDicomMetadataOnly(path string) (*Dataset, error) {
	return readDicom(path, dicom.SkipPixelData())
}

func readDicom(path string, opts ...dicom.ParseOption) (ds *Dataset, err error) {
	if !hasDicomMagicBytes(path) {
		return nil, ErrNotDicom
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat file: %w", err)
	}

	// The parser panics on some truncated files.
	defer func() {
		if r := recover(); r != nil {
			ds, err = nil, fmt.Errorf("could not parse DICOM: %v", r)
		}
	}()

	data, err := dicom.Parse(file, info.Size(), nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not parse DICOM: %w", err)
	}

	return &Dataset{
		Data:     data,
		FilePath: path,
	}, nil
}

// hasDicomMagicBytes checks if a file has the DICOM magic bytes ("DICM" at offset 128)
func hasDicomMagicBytes(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	header := make([]byte, 132)
	n, err := io.ReadFull(file, header)
	if err != nil || n < 132 {
		return false
	}

	return string(header[128:132]) == "DICM"
}

// GetString returns the first string value for a tag, or empty string if not found.
func (d *Dataset) GetString(t tag.Tag) string {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}

	switch v := elem.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return v[0]
		}
		return ""
	case string:
		return v
	}

	return fmt.Sprintf("%v", elem.Value.GetValue())
}

// ReadText renders an attribute as text. Multiple values are joined with a
// backslash, the DICOM value delimiter. Missing, empty or binary attributes
// yield Placeholder.
func (d *Dataset) ReadText(t tag.Tag) string {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return Placeholder
	}

	var parts []string
	switch v := elem.Value.GetValue().(type) {
	case []string:
		parts = v
	case string:
		parts = []string{v}
	case []int:
		for _, n := range v {
			parts = append(parts, strconv.Itoa(n))
		}
	case []float64:
		for _, f := range v {
			parts = append(parts, strconv.FormatFloat(f, 'f', -1, 64))
		}
	default:
		return Placeholder
	}

	for i, p := range parts {
		parts[i] = strings.TrimSpace(strings.TrimRight(p, "\x00"))
	}
	text := strings.Join(parts, `\`)
	if strings.Trim(text, `\`) == "" {
		return Placeholder
	}
	return text
}

package dicom

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// SetString replaces the value of an existing element, keeping its VR.
// Elements that are not present are left alone; the returned bool reports
// whether a replacement happened.
func (d *Dataset) SetString(t tag.Tag, value string) (bool, error) {
	elem, err := d.Data.FindElementByTag(t)
	if err != nil {
		return false, nil
	}

	newValue, err := dicom.NewValue([]string{value})
	if err != nil {
		return false, fmt.Errorf("could not create value: %w", err)
	}

	newElem := &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    elem.ValueRepresentation,
		RawValueRepresentation: elem.RawValueRepresentation,
		ValueLength:            uint32(len(value)),
		Value:                  newValue,
	}

	for i, e := range d.Data.Elements {
		if e.Tag == t {
			d.Data.Elements[i] = newElem
			return true, nil
		}
	}

	return false, nil
}

// Save writes the DICOM dataset to a file, creating parent directories.
func (d *Dataset) Save(outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("could not create output file: %w", err)
	}

	// VR and value types are not verified on write.
	if err := dicom.Write(file, d.Data,
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
		dicom.DefaultMissingTransferSyntax(),
	); err != nil {
		file.Close()
		os.Remove(outputPath)
		return fmt.Errorf("could not write DICOM: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("could not close output file: %w", err)
	}
	return nil
}

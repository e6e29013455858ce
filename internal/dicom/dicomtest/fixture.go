// Package dicomtest writes small synthetic DICOM files for tests.
package dicomtest

import (
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Attrs maps tags to element data ([]string, []int, ...) as accepted by
// dicom.NewElement.
type Attrs map[tag.Tag]any

// Study returns the attributes of a minimal CT instance.
func Study(patientID, studyUID, seriesUID string) Attrs {
	return Attrs{
		tag.PatientName:       []string{"DOE^JANE"},
		tag.PatientID:         []string{patientID},
		tag.PatientBirthDate:  []string{"19800101"},
		tag.PatientSex:        []string{"F"},
		tag.StudyInstanceUID:  []string{studyUID},
		tag.StudyDate:         []string{"20240102"},
		tag.SeriesInstanceUID: []string{seriesUID},
		tag.Modality:          []string{"CT"},
		tag.InstitutionName:   []string{"General Hospital"},
		tag.Rows:              []int{2},
		tag.Columns:           []int{2},
	}
}

// NewUID returns a UID under the 2.25 (UUID-derived) root.
func NewUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}

// WriteFile writes a DICOM file with the given attributes plus the file
// meta elements needed to parse it back.
func WriteFile(t testing.TB, path string, attrs Attrs) {
	t.Helper()

	elements := []*dicom.Element{
		mustNewElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustNewElement(t, tag.MediaStorageSOPInstanceUID, []string{NewUID()}),
		mustNewElement(t, tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
	}
	for tg, data := range attrs {
		elements = append(elements, mustNewElement(t, tg, data))
	}
	sort.Slice(elements, func(i, j int) bool {
		a, b := elements[i].Tag, elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	err = dicom.Write(f, dicom.Dataset{Elements: elements},
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
	)
	require.NoError(t, err)
}

func mustNewElement(t testing.TB, tg tag.Tag, data any) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, data)
	require.NoError(t, err, "element %s", tg)
	return elem
}

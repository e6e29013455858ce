package dicom

import "github.com/suyashkumar/dicom/pkg/tag"

// SeriesUIDNotSet is the sentinel series identifier for files without one.
const SeriesUIDNotSet = "UIDNotSet"

// Tags without a keyword constant we rely on across dictionary versions.
var (
	tagNumberOfFrames   = tag.Tag{Group: 0x0028, Element: 0x0008}
	tagXRayTubeCurrent  = tag.Tag{Group: 0x0018, Element: 0x1151}
	tagKVP              = tag.Tag{Group: 0x0018, Element: 0x0060}
	tagFilterType       = tag.Tag{Group: 0x0018, Element: 0x1160}
	tagExposureTime     = tag.Tag{Group: 0x0018, Element: 0x1150}
	tagRescaleIntercept = tag.Tag{Group: 0x0028, Element: 0x1052}
)

// PatientMeta holds patient-level attributes.
type PatientMeta struct {
	PatientID string
	BirthDate string
	Sex       string
	Age       string
}

// StudyMeta holds study-level attributes.
type StudyMeta struct {
	StudyUID    string
	StudyDate   string
	StudyTime   string
	Description string
}

// SeriesMeta holds series-level attributes.
type SeriesMeta struct {
	SeriesUID               string
	Modality                string
	InstanceNumber          string
	ImagePositionPatient    string
	ImageOrientationPatient string
	PixelSpacing            string
	NumberOfFrames          string
	XRayTubeCurrent         string
	KVP                     string
	FilterType              string
	Rows                    string
	Columns                 string
	ExposureTime            string
	RescaleIntercept        string
	Description             string
}

// Record is the flat metadata extracted from one file.
type Record struct {
	Patient PatientMeta
	Study   StudyMeta
	Series  SeriesMeta
	Path    string
}

// Extract builds a Record from a decoded dataset. Missing attributes are
// filled with Placeholder and a missing series UID with SeriesUIDNotSet.
func Extract(ds *Dataset, path string) Record {
	rec := Record{
		Patient: PatientMeta{
			PatientID: ds.ReadText(tag.PatientID),
			BirthDate: ds.ReadText(tag.PatientBirthDate),
			Sex:       ds.ReadText(tag.PatientSex),
			Age:       ds.ReadText(tag.PatientAge),
		},
		Study: StudyMeta{
			StudyUID:    ds.ReadText(tag.StudyInstanceUID),
			StudyDate:   ds.ReadText(tag.StudyDate),
			StudyTime:   ds.ReadText(tag.StudyTime),
			Description: ds.ReadText(tag.StudyDescription),
		},
		Series: SeriesMeta{
			SeriesUID:               ds.ReadText(tag.SeriesInstanceUID),
			Modality:                ds.ReadText(tag.Modality),
			InstanceNumber:          ds.ReadText(tag.InstanceNumber),
			ImagePositionPatient:    ds.ReadText(tag.ImagePositionPatient),
			ImageOrientationPatient: ds.ReadText(tag.ImageOrientationPatient),
			PixelSpacing:            ds.ReadText(tag.PixelSpacing),
			NumberOfFrames:          ds.ReadText(tagNumberOfFrames),
			XRayTubeCurrent:         ds.ReadText(tagXRayTubeCurrent),
			KVP:                     ds.ReadText(tagKVP),
			FilterType:              ds.ReadText(tagFilterType),
			Rows:                    ds.ReadText(tag.Rows),
			Columns:                 ds.ReadText(tag.Columns),
			ExposureTime:            ds.ReadText(tagExposureTime),
			RescaleIntercept:        ds.ReadText(tagRescaleIntercept),
			Description:             ds.ReadText(tag.SeriesDescription),
		},
		Path: path,
	}

	if rec.Series.SeriesUID == Placeholder {
		rec.Series.SeriesUID = SeriesUIDNotSet
	}

	return rec
}

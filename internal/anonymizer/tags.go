package anonymizer

import "github.com/suyashkumar/dicom/pkg/tag"

// RewriteTable maps a tag to the literal that replaces its value.
type RewriteTable map[tag.Tag]string

// Tags the dictionary names inconsistently across releases.
var (
	tagPatientDeathDateAlt = tag.Tag{Group: 0x0010, Element: 0x0034}
	tagAdmissionID         = tag.Tag{Group: 0x0038, Element: 0x0010}
	tagDeviceSerialNumber  = tag.Tag{Group: 0x0018, Element: 0x1000}
	tagDeviceDescription   = tag.Tag{Group: 0x0050, Element: 0x0020}
)

// DefaultRewriteTable returns the identifying attributes replaced during
// de-identification.
func DefaultRewriteTable() RewriteTable {
	return RewriteTable{
		// Patient
		tag.PatientName:             "Anonymized",
		tag.PatientBirthDate:        "19000101",
		tag.PatientBirthTime:        "000000.00",
		tag.PatientAddress:          "Anonymized",
		tagPatientDeathDateAlt:      "19000101",
		tag.PatientComments:         "Anonymized",
		tag.PatientTelephoneNumbers: "Anonymized",

		// Institution
		tag.InstitutionName:    "Anonymized",
		tag.InstitutionAddress: "Anonymized",

		// Visit and equipment
		tagAdmissionID:        "Anonymized",
		tagDeviceSerialNumber: "Anonymized",
		tagDeviceDescription:  "Anonymized",
	}
}

// Merge returns a copy of t with overrides applied on top.
func (t RewriteTable) Merge(overrides RewriteTable) RewriteTable {
	out := make(RewriteTable, len(t)+len(overrides))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

package dicom

// Codec decodes DICOM files into datasets and encodes them back.
type Codec struct {
	// MetadataOnly skips pixel data while decoding. Datasets decoded this
	// way must not be encoded again.
	MetadataOnly bool
}

// Decode reads the file at path.
func (c Codec) Decode(path string) (*Dataset, error) {
	if c.MetadataOnly {
		return ReadDicomMetadataOnly(path)
	}
	return ReadDicom(path)
}

// Encode writes ds to path.
func (c Codec) Encode(ds *Dataset, path string) error {
	return ds.Save(path)
}

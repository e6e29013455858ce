package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Report is the exported index tree.
type Report struct {
	Result []Patient `json:"result"`

	// Orphans are paths stored without a series. They are not part of the
	// JSON document.
	Orphans []string `json:"-"`
}

// Patient is a patient node of the report.
type Patient struct {
	PatientID string  `json:"patient_id"`
	BirthDate string  `json:"birth_date"`
	Sex       string  `json:"sex"`
	Age       string  `json:"age"`
	Studies   []Study `json:"studies"`
}

// Study is a study node of the report.
type Study struct {
	StudyUID    string   `json:"study_uid"`
	StudyDate   string   `json:"study_date"`
	StudyTime   string   `json:"study_time"`
	Description string   `json:"description"`
	Series      []Series `json:"series"`
}

// Series is a series node of the report.
type Series struct {
	SeriesUID               string   `json:"series_uid"`
	Modality                string   `json:"modality"`
	InstanceNumber          string   `json:"instancenumber"`
	ImagePositionPatient    string   `json:"imagepositionpatient"`
	ImageOrientationPatient string   `json:"imageorientationpatient"`
	PixelSpacing            string   `json:"pixelspacing"`
	NumberOfFrames          string   `json:"numberofframes"`
	XRayTubeCurrent         string   `json:"xraytubecurrent"`
	KVP                     string   `json:"kvp"`
	FilterType              string   `json:"filtertype"`
	Rows                    string   `json:"rows"`
	Columns                 string   `json:"columns"`
	ExposureTime            string   `json:"exposuretime"`
	RescaleIntercept        string   `json:"rescaleintercept"`
	Description             string   `json:"description"`
	Paths                   []string `json:"paths"`
}

// Count returns the number of studies, series and files under the patient.
func (p Patient) Count() (studies, series, files int) {
	studies = len(p.Studies)
	for _, st := range p.Studies {
		series += len(st.Series)
		for _, se := range st.Series {
			files += len(se.Paths)
		}
	}
	return studies, series, files
}

// Export reads the whole tree back, ordered by identifier.
func (ix *Index) Export(ctx context.Context) (*Report, error) {
	if err := ix.acquire(ctx); err != nil {
		return nil, err
	}
	defer ix.release()

	// The pool holds a single connection, so each level is read to the end
	// before its children are queried.
	patients, err := ix.queryPatients(ctx)
	if err != nil {
		return nil, err
	}
	for i := range patients {
		studies, err := ix.queryStudies(ctx, patients[i].PatientID)
		if err != nil {
			return nil, err
		}
		for j := range studies {
			series, err := ix.querySeries(ctx, studies[j].StudyUID)
			if err != nil {
				return nil, err
			}
			for k := range series {
				paths, err := ix.queryPaths(ctx,
					"SELECT path FROM paths WHERE series_uid = ? ORDER BY path", series[k].SeriesUID)
				if err != nil {
					return nil, err
				}
				series[k].Paths = paths
			}
			studies[j].Series = series
		}
		patients[i].Studies = studies
	}

	orphans, err := ix.queryPaths(ctx, "SELECT path FROM paths WHERE series_uid IS NULL ORDER BY path")
	if err != nil {
		return nil, err
	}

	return &Report{Result: patients, Orphans: orphans}, nil
}

func (ix *Index) queryPatients(ctx context.Context) ([]Patient, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT patient_id, birth_date, sex, age FROM patients ORDER BY patient_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	patients := []Patient{}
	for rows.Next() {
		p := Patient{Studies: []Study{}}
		if err := rows.Scan(&p.PatientID, &p.BirthDate, &p.Sex, &p.Age); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (ix *Index) queryStudies(ctx context.Context, patientID string) ([]Study, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT study_uid, study_date, study_time, description
		FROM studies WHERE patient_id = ? ORDER BY study_uid
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query studies: %w", err)
	}
	defer rows.Close()

	studies := []Study{}
	for rows.Next() {
		s := Study{Series: []Series{}}
		if err := rows.Scan(&s.StudyUID, &s.StudyDate, &s.StudyTime, &s.Description); err != nil {
			return nil, fmt.Errorf("failed to scan study: %w", err)
		}
		studies = append(studies, s)
	}
	return studies, rows.Err()
}

func (ix *Index) querySeries(ctx context.Context, studyUID string) ([]Series, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT series_uid, modality, instance_number, image_position_patient,
		       image_orientation_patient, pixel_spacing, number_of_frames,
		       xray_tube_current, kvp, filter_type, image_rows, image_columns,
		       exposure_time, rescale_intercept, description
		FROM series WHERE study_uid = ? ORDER BY series_uid
	`, studyUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	series := []Series{}
	for rows.Next() {
		s := Series{Paths: []string{}}
		if err := rows.Scan(
			&s.SeriesUID, &s.Modality, &s.InstanceNumber, &s.ImagePositionPatient,
			&s.ImageOrientationPatient, &s.PixelSpacing, &s.NumberOfFrames,
			&s.XRayTubeCurrent, &s.KVP, &s.FilterType, &s.Rows, &s.Columns,
			&s.ExposureTime, &s.RescaleIntercept, &s.Description,
		); err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		series = append(series, s)
	}
	return series, rows.Err()
}

func (ix *Index) queryPaths(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query paths: %w", err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// WriteJSON writes the report document to path.
func (r *Report) WriteJSON(path string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create report directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write report: %w", err)
	}
	return nil
}

// PrintSummary writes one line per patient with its study, series and file
// counts.
func (r *Report) PrintSummary(w io.Writer) {
	if len(r.Result) == 0 {
		fmt.Fprintln(w, "No patients found")
	} else {
		fmt.Fprintf(w, "Among them, patients were found: %d\n", len(r.Result))
		for i, p := range r.Result {
			studies, series, files := p.Count()
			fmt.Fprintf(w, "\t%d. %15s--->\t\tStudies:\t%d,\tSeries:\t%d,\tFiles:\t%d\n",
				i+1, p.PatientID, studies, series, files)
		}
	}

	if len(r.Orphans) > 0 {
		fmt.Fprintf(w, "Files without a resolved series: %d\n", len(r.Orphans))
	}
}

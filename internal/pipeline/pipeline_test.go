package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	dcm "dcm-finder/internal/dicom"
	"dcm-finder/internal/dicom/dicomtest"
	"dcm-finder/internal/index"
	"dcm-finder/internal/metrics"
	"dcm-finder/internal/pipeline"
	"dcm-finder/internal/progress"
)

// writeScenario creates two P1 files in one study with different series and
// one P2 file.
func writeScenario(t *testing.T) string {
	t.Helper()
	in := t.TempDir()
	dicomtest.WriteFile(t, filepath.Join(in, "a", "1.dcm"), dicomtest.Study("P1", "S1", "SE1"))
	dicomtest.WriteFile(t, filepath.Join(in, "a", "2.dcm"), dicomtest.Study("P1", "S1", "SE2"))
	dicomtest.WriteFile(t, filepath.Join(in, "b", "3.dcm"), dicomtest.Study("P2", "S2", "SE3"))
	return in
}

func TestRunFind(t *testing.T) {
	in := writeScenario(t)
	report := filepath.Join(t.TempDir(), "result.json")
	var out bytes.Buffer

	stats, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:       pipeline.ModeFind,
		InputDir:   in,
		Workers:    2,
		ReportPath: report,
		Output:     &out,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 0, stats.Orphaned)
	assert.Equal(t, 0, stats.Written)
	assert.Equal(t, 2, stats.Patients)
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, index.Counts{Patients: 2, Studies: 2, Series: 3, Paths: 3}, stats.Index)
	assert.NotEmpty(t, stats.RunID)

	require.Len(t, stats.Report.Result, 2)
	p1, p2 := stats.Report.Result[0], stats.Report.Result[1]
	assert.Equal(t, "P1", p1.PatientID)
	studies, series, files := p1.Count()
	assert.Equal(t, []int{1, 2, 2}, []int{studies, series, files})
	assert.Equal(t, "P2", p2.PatientID)
	studies, series, files = p2.Count()
	assert.Equal(t, []int{1, 1, 1}, []int{studies, series, files})

	assert.Contains(t, out.String(), "Total files found: 3")
	assert.Contains(t, out.String(), "Among them, patients were found: 2")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var doc struct {
		Result []struct {
			PatientID string `json:"patient_id"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc.Result, 2)
}

func TestRunDeidentify(t *testing.T) {
	in := writeScenario(t)
	outRoot := t.TempDir()
	m := metrics.New()

	stats, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:      pipeline.ModeDeidentify,
		InputDir:  in,
		OutputDir: outRoot,
		Workers:   3,
		Output:    &bytes.Buffer{},
		Metrics:   m,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Written)
	assert.Equal(t, 0, stats.WriteFailed)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesWritten))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Patients))

	for _, p := range []string{
		filepath.Join(outRoot, "P1", "S1", "SE1", "0"),
		filepath.Join(outRoot, "P1", "S1", "SE2", "0"),
		filepath.Join(outRoot, "P2", "S2", "SE3", "0"),
	} {
		ds, err := dcm.ReadDicom(p)
		require.NoError(t, err, p)
		assert.Equal(t, "Anonymized", ds.GetString(tag.PatientName))
		assert.Equal(t, "19000101", ds.GetString(tag.PatientBirthDate))
		assert.Equal(t, "Anonymized", ds.GetString(tag.InstitutionName))
		// Everything else is preserved.
		assert.Equal(t, "F", ds.GetString(tag.PatientSex))
		assert.Equal(t, "CT", ds.GetString(tag.Modality))
		assert.Equal(t, "20240102", ds.GetString(tag.StudyDate))
	}

	// A clean run leaves no error log behind.
	_, err = os.Stat(filepath.Join(outRoot, pipeline.ErrorLogName))
	assert.True(t, os.IsNotExist(err))

	// Sources are untouched.
	src, err := dcm.ReadDicom(filepath.Join(in, "a", "1.dcm"))
	require.NoError(t, err)
	assert.Equal(t, "DOE^JANE", src.GetString(tag.PatientName))
}

func TestRunSameSeriesGetsDistinctNames(t *testing.T) {
	in := t.TempDir()
	for i := 0; i < 5; i++ {
		dicomtest.WriteFile(t, filepath.Join(in, dicomtest.NewUID()), dicomtest.Study("P1", "S1", "SE1"))
	}
	outRoot := t.TempDir()

	stats, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:      pipeline.ModeDeidentify,
		InputDir:  in,
		OutputDir: outRoot,
		Workers:   5,
		Output:    &bytes.Buffer{},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Written)

	entries, err := os.ReadDir(filepath.Join(outRoot, "P1", "S1", "SE1"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"0", "1", "2", "3", "4"}, names)
}

func TestRunSkipsUndecodableAndHidden(t *testing.T) {
	in := writeScenario(t)
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("hello"), 0644))
	dicomtest.WriteFile(t, filepath.Join(in, ".cache", "x.dcm"), dicomtest.Study("P9", "S9", "SE9"))
	dicomtest.WriteFile(t, filepath.Join(in, "b", ".y.dcm"), dicomtest.Study("P9", "S9", "SE9"))

	manifest := filepath.Join(t.TempDir(), "manifest.json")
	var mu sync.Mutex
	var statuses []string

	stats, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:         pipeline.ModeFind,
		InputDir:     in,
		ManifestPath: manifest,
		Output:       &bytes.Buffer{},
	}, func(current, total int, path, status string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 4, total)
		assert.Equal(t, len(statuses)+1, current)
		statuses = append(statuses, status)
	})
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 2, stats.Patients)
	assert.ElementsMatch(t, []string{"indexed", "indexed", "indexed", "skipped"}, statuses)

	raw, err := os.ReadFile(manifest)
	require.NoError(t, err)
	var data progress.ManifestData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, stats.RunID, data.RunID)
	require.Contains(t, data.Files, filepath.Join(in, "notes.txt"))
	assert.Equal(t, progress.OutcomeSkipped, data.Files[filepath.Join(in, "notes.txt")].Outcome)
}

func TestRunOrphansOverlongIdentifier(t *testing.T) {
	in := t.TempDir()
	dicomtest.WriteFile(t, filepath.Join(in, "1.dcm"), dicomtest.Study("P1", "S1", "SE1"))
	dicomtest.WriteFile(t, filepath.Join(in, "2.dcm"), dicomtest.Study("P1", "S1", strings.Repeat("1", 65)))
	var out bytes.Buffer

	stats, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:     pipeline.ModeFind,
		InputDir: in,
		Output:   &out,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Orphaned)
	assert.Equal(t, []string{filepath.Join(in, "2.dcm")}, stats.Report.Orphans)
	assert.Contains(t, out.String(), "Files without a resolved series: 1")
}

type failingCodec struct {
	dcm.Codec
	failFor string
}

func (c failingCodec) Encode(ds *dcm.Dataset, path string) error {
	if ds.GetString(tag.PatientID) == c.failFor {
		return errors.New("device not ready")
	}
	return c.Codec.Encode(ds, path)
}

func TestRunWriteFailureIsLogged(t *testing.T) {
	in := writeScenario(t)
	outRoot := t.TempDir()

	stats, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:      pipeline.ModeDeidentify,
		InputDir:  in,
		OutputDir: outRoot,
		Codec:     failingCodec{failFor: "P2"},
		Output:    &bytes.Buffer{},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.WriteFailed)
	// The file is still indexed.
	assert.Equal(t, 3, stats.Indexed)

	data, err := os.ReadFile(filepath.Join(outRoot, pipeline.ErrorLogName))
	require.NoError(t, err)
	assert.Contains(t, string(data), filepath.Join(in, "b", "3.dcm"))
	assert.Contains(t, string(data), "device not ready")
}

func TestRunConfigErrors(t *testing.T) {
	ctx := context.Background()

	_, err := pipeline.Run(ctx, pipeline.Config{Mode: pipeline.ModeFind}, nil)
	assert.Error(t, err)

	_, err = pipeline.Run(ctx, pipeline.Config{Mode: pipeline.ModeDeidentify, InputDir: t.TempDir()}, nil)
	assert.Error(t, err)

	_, err = pipeline.Run(ctx, pipeline.Config{Mode: "copy", InputDir: t.TempDir()}, nil)
	assert.Error(t, err)
}

func TestRunMissingInputRoot(t *testing.T) {
	report := filepath.Join(t.TempDir(), "result.json")
	var out bytes.Buffer

	stats, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:       pipeline.ModeFind,
		InputDir:   filepath.Join(t.TempDir(), "missing"),
		ReportPath: report,
		Output:     &out,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0, stats.Patients)
	assert.Empty(t, stats.Report.Result)
	assert.Equal(t, index.Counts{}, stats.Index)
	assert.Contains(t, out.String(), "Total files found: 0")
	assert.Contains(t, out.String(), "No patients found")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":[]}`, string(data))
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 3, pipeline.WorkerCount(3))
	assert.Equal(t, runtime.NumCPU(), pipeline.WorkerCount(0))
	assert.Equal(t, runtime.NumCPU(), pipeline.WorkerCount(-1))
}

func TestRunIndexOpenFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := pipeline.Run(context.Background(), pipeline.Config{
		Mode:      pipeline.ModeFind,
		InputDir:  dir,
		IndexPath: filepath.Join(dir, "no", "such", "dir", "study.db"),
		Output:    &bytes.Buffer{},
	}, nil)
	assert.Error(t, err)
}

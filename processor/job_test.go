package processor

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/provider"
	"github.com/airbusgeo/landsat-processor/service"
)

const jobSceneID = "LC08_L2SP_190024_20240716_20240723_02_T1"

// unavailableStorage fails all the exports
type unavailableStorage struct {
	exports int
	deleted []string
}

func (s *unavailableStorage) ExportDir(ctx context.Context, localDir, remoteDir string, asZip bool) ([]string, error) {
	s.exports++
	return nil, service.MakeTemporary(errors.New("storage unavailable"))
}

func (s *unavailableStorage) Import(ctx context.Context, remotePath, localDir string) (string, error) {
	return "", service.ErrFileNotFound{File: remotePath}
}

func (s *unavailableStorage) Delete(ctx context.Context, remotePath string) error {
	s.deleted = append(s.deleted, remotePath)
	return service.ErrFileNotFound{File: remotePath}
}

// countingProvider fails all the downloads with err
type countingProvider struct {
	calls int
	err   error
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Download(ctx context.Context, sceneID, localDir string) error {
	p.calls++
	return p.err
}

func TestJobExportFailure(t *testing.T) {
	inputDir := t.TempDir()
	for _, code := range []string{"SR_B4", "SR_B5"} {
		if err := os.WriteFile(filepath.Join(inputDir, jobSceneID+"_"+code+".TIF"), []byte(code), 0644); err != nil {
			t.Fatal(err)
		}
	}
	storage := &unavailableStorage{}
	j := Job{Processor: New(), Storage: storage, WorkDir: t.TempDir(), RetryWait: time.Millisecond}

	_, err := j.Run(context.Background(), common.BatchRequest{JobID: "job", InputURI: inputDir, OutputFolder: "remote", Organize: true})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !service.Temporary(err) {
		t.Errorf("an unavailable storage is a temporary error, got %v", err)
	}
	if storage.exports != retryTries {
		t.Errorf("expected %d exports, got %d", retryTries, storage.exports)
	}
	expected := map[string]bool{
		path.Join("remote", ReportFileName):                                    false,
		path.Join("remote", "LANDSAT8", jobSceneID, jobSceneID+"_SR_B4.TIF"): false,
	}
	for _, d := range storage.deleted {
		if _, ok := expected[d]; ok {
			expected[d] = true
		}
	}
	for f, deleted := range expected {
		if !deleted {
			t.Errorf("%s must be deleted from the storage (deleted: %v)", f, storage.deleted)
		}
	}
}

func TestJobDownloadRetries(t *testing.T) {
	tests := map[string]struct {
		err   error
		calls int
		fatal bool
	}{
		"not found":   {provider.ErrProductNotFound{Product: jobSceneID}, 1, true},
		"unavailable": {service.MakeTemporary(errors.New("503")), retryTries, false},
	}
	for name, tc := range tests {
		p := &countingProvider{err: tc.err}
		j := Job{
			Processor: New(),
			Providers: map[string]provider.Provider{"counting": p},
			WorkDir:   t.TempDir(),
			RetryWait: time.Millisecond,
		}
		_, err := j.Run(context.Background(), common.BatchRequest{JobID: "job", Provider: "counting", SceneIDs: []string{jobSceneID}, Organize: true})
		if err == nil {
			t.Fatalf("%s: expected an error", name)
		}
		if p.calls != tc.calls {
			t.Errorf("%s: expected %d downloads, got %d", name, tc.calls, p.calls)
		}
		if service.Fatal(err) != tc.fatal {
			t.Errorf("%s: expected fatal=%v, got %v", name, tc.fatal, err)
		}
	}
}

package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/provider"
	"github.com/airbusgeo/landsat-processor/scene"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"
	"github.com/google/uuid"
)

// Job runs batch requests: it fetches the scenes, runs the batch and exports the outputs
type Job struct {
	Processor *Processor
	// Storage to import remote inputs and export the outputs (optional)
	Storage     service.Storage
	ExportAsZip bool
	Providers   map[string]provider.Provider
	WorkDir     string
	// Wait before the first retry of a download or an export (default: 15s)
	RetryWait time.Duration
}

const retryTries = 3

func (j *Job) retryWait() time.Duration {
	if j.RetryWait <= 0 {
		return 15 * time.Second
	}
	return j.RetryWait
}

// Run the request. Configuration errors are fatal.
func (j *Job) Run(ctx context.Context, req common.BatchRequest) (common.BatchEvent, error) {
	event := common.BatchEvent{JobID: req.JobID, Date: j.Processor.Now()}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
		event.JobID = req.JobID
	}
	ctx = log.With(ctx, "job", req.JobID)

	// Working dir
	workdir := filepath.Join(j.WorkDir, uuid.New().String())
	if err := os.MkdirAll(workdir, 0766); err != nil {
		return event, service.MakeTemporary(fmt.Errorf("make directory %s: %w", workdir, err))
	}
	defer os.RemoveAll(workdir)

	inputDir, err := j.fetch(ctx, req, workdir)
	if err != nil {
		return event, fmt.Errorf("Run[%s].%w", req.JobID, err)
	}
	scenes, err := scene.Discover(ctx, inputDir)
	if err != nil {
		return event, service.MakeFatal(fmt.Errorf("Run[%s].%w", req.JobID, err))
	}

	ops, err := OperationsFromRequest(req)
	if err != nil {
		return event, service.MakeFatal(fmt.Errorf("Run[%s].%w", req.JobID, err))
	}
	remoteDir := req.OutputFolder
	switch {
	case j.Storage != nil:
		if remoteDir == "" {
			remoteDir = req.JobID
		}
		ops.OutputFolder = filepath.Join(workdir, "output")
	case ops.OutputFolder == "":
		ops.OutputFolder = filepath.Join(j.WorkDir, DefaultOutputFolder(event.Date))
	}

	res, err := j.Processor.RunBatch(ctx, scenes, ops)
	if err != nil {
		if res == nil {
			return event, service.MakeFatal(fmt.Errorf("Run[%s].%w", req.JobID, err))
		}
		return event, fmt.Errorf("Run[%s].%w", req.JobID, err)
	}
	event.Status = res.Status()
	event.Scenes = res.Events()
	event.OutputURI = res.OutputFolder
	if ids := res.Failed(); len(ids) > 0 {
		event.Message = fmt.Sprintf("%d/%d scenes failed: %s", len(ids), len(event.Scenes), strings.Join(ids, ", "))
	}

	if j.Storage != nil {
		log.Logger(ctx).Sugar().Infof("export outputs to %s", remoteDir)
		var uris []string
		err := service.Retriable(ctx, func() error {
			var err error
			uris, err = j.Storage.ExportDir(ctx, res.OutputFolder, remoteDir, j.ExportAsZip)
			return err
		}, j.retryWait(), retryTries)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("export failed, deleting the exported files: %v", err)
			derr := service.DeleteExport(ctx, j.Storage, res.OutputFolder, remoteDir, j.ExportAsZip)
			return event, fmt.Errorf("Run[%s].%w", req.JobID, service.MergeErrors(true, err, derr))
		}
		event.OutputURI = remoteDir
		if j.ExportAsZip && len(uris) == 1 {
			event.OutputURI = uris[0]
		}
	}
	return event, nil
}

// fetch returns the local folder of the raw scenes of the request
func (j *Job) fetch(ctx context.Context, req common.BatchRequest, workdir string) (string, error) {
	inputDir := filepath.Join(workdir, "input")
	if req.Provider != "" {
		p, ok := j.Providers[strings.ToLower(req.Provider)]
		if !ok {
			return "", service.MakeFatal(fmt.Errorf("fetch: unknown provider %s", req.Provider))
		}
		if len(req.SceneIDs) == 0 {
			return "", service.MakeFatal(fmt.Errorf("fetch: scene ids are required with a provider"))
		}
		for _, id := range req.SceneIDs {
			log.Logger(ctx).Sugar().Infof("download %s from %s", id, p.Name())
			err := service.Retriable(ctx, func() error {
				err := p.Download(ctx, id, inputDir)
				if errors.As(err, &provider.ErrProductNotFound{}) {
					return service.MakeFatal(err)
				}
				return err
			}, j.retryWait(), retryTries)
			if err != nil {
				return "", fmt.Errorf("fetch[%s].%w", id, err)
			}
		}
		return inputDir, nil
	}

	if req.InputURI == "" {
		return "", service.MakeFatal(fmt.Errorf("fetch: missing input"))
	}
	if info, err := os.Stat(req.InputURI); err == nil {
		if info.IsDir() {
			return req.InputURI, nil
		}
		if _, err := scene.Extract(ctx, req.InputURI, inputDir); err != nil {
			return "", service.MakeFatal(fmt.Errorf("fetch.%w", err))
		}
		return inputDir, nil
	}
	if j.Storage == nil || !service.IsArchive(req.InputURI) {
		return "", service.MakeFatal(common.ErrSceneDiscovery{Path: req.InputURI, Err: fmt.Errorf("input not found")})
	}
	archive, err := j.Storage.Import(ctx, req.InputURI, workdir)
	if err != nil {
		return "", fmt.Errorf("fetch.%w", err)
	}
	if _, err := scene.Extract(ctx, archive, inputDir); err != nil {
		return "", service.MakeFatal(fmt.Errorf("fetch.%w", err))
	}
	return inputDir, nil
}

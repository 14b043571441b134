package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/airbusgeo/landsat-processor/band"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/index"
	"github.com/airbusgeo/landsat-processor/metadata"
	"github.com/airbusgeo/landsat-processor/raster"
	"github.com/airbusgeo/landsat-processor/reproject"
	"github.com/airbusgeo/landsat-processor/scene"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// ReportFileName is the name of the batch report in the output folder
	ReportFileName = "batch_report.json"
	// ReprojectedDir is the folder of the reprojected bands in the output folder of a scene
	ReprojectedDir = "reprojected"

	workDir = ".work"
)

// Processor runs batches of scenes
type Processor struct {
	Registry *index.Registry
	Resolver band.Resolver
	Metadata metadata.Provider
	// OnSceneDone is called each time a scene ends (concurrently if Workers > 1)
	OnSceneDone func(SceneResult)
	Now         func() time.Time
}

// New returns a processor using the default index registry and the MTL files
func New() *Processor {
	return &Processor{
		Registry: index.Default,
		Metadata: metadata.MTLProvider{},
		Now:      time.Now,
	}
}

// RunBatch processes the scenes according to ops.
// The operations are validated before any scene is processed: a configuration error is returned as is.
// Failures of the scenes are recorded in the BatchResult and never returned.
func (p *Processor) RunBatch(ctx context.Context, scenes []common.Scene, ops Operations) (*BatchResult, error) {
	now := p.Now()
	cfg, err := ops.validate(p.Registry, now)
	if err != nil {
		return nil, fmt.Errorf("RunBatch.%w", err)
	}
	if err := os.MkdirAll(cfg.OutputFolder, 0755); err != nil {
		return nil, fmt.Errorf("RunBatch.MkdirAll: %w", err)
	}
	res := newBatchResult(cfg.OutputFolder, now)

	selected, missing := scene.Filter(scenes, cfg.SceneIDs)
	for _, id := range missing {
		p.done(res, failed(id, common.ErrSceneDiscovery{Path: id, Err: fmt.Errorf("scene not found")}, 0))
	}
	sorted := append([]common.Scene{}, selected...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	log.Logger(ctx).Sugar().Infof("processing %d scenes with %d workers in %s", len(sorted), cfg.Workers, cfg.OutputFolder)

	wg, wctx := errgroup.WithContext(ctx)
	jobs := make(chan common.Scene, len(sorted))
	for i := 0; i < cfg.Workers && i < len(sorted); i++ {
		wg.Go(func() error { return p.worker(wctx, jobs, cfg, res) })
	}
	for _, s := range sorted {
		jobs <- s
	}
	close(jobs)
	if err := wg.Wait(); err != nil {
		return res, fmt.Errorf("RunBatch.%w", err)
	}
	os.Remove(filepath.Join(cfg.OutputFolder, workDir))

	report := res.Report(p.Now())
	if err := service.WriteJSON(report, cfg.OutputFolder, ReportFileName); err != nil {
		return res, fmt.Errorf("RunBatch.%w", err)
	}
	log.Logger(ctx).Sugar().Infof("batch done: %d succeeded, %d failed", report.Succeeded, report.Failed)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("RunBatch: %w", err)
	}
	return res, nil
}

func (p *Processor) worker(ctx context.Context, jobs <-chan common.Scene, cfg config, res *BatchResult) error {
	for s := range jobs {
		select {
		case <-ctx.Done():
		default:
			start := time.Now()
			sctx := log.With(ctx, "scene", s.ID)
			outputs, err := p.processScene(sctx, s, cfg)
			if err != nil {
				log.Logger(sctx).Warn("scene failed", zap.Error(err))
				p.done(res, failed(s.ID, err, time.Since(start)))
			} else {
				log.Logger(sctx).Sugar().Infof("scene done: %d outputs", len(outputs))
				p.done(res, succeeded(s.ID, outputs, time.Since(start)))
			}
		}
	}
	return nil
}

func (p *Processor) done(res *BatchResult, r SceneResult) {
	res.Add(r)
	if p.OnSceneDone != nil {
		p.OnSceneDone(r)
	}
}

// processScene runs the operations on the scene in a staging folder, then moves the outputs to the output folder.
// Nothing is written in the output folder if an operation fails.
func (p *Processor) processScene(ctx context.Context, s common.Scene, cfg config) ([]string, error) {
	if cfg.SceneTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SceneTimeout)
		defer cancel()
	}
	if !s.Sensor.Supported() {
		return nil, common.ErrUnsupportedSensor{Sensor: s.Sensor}
	}

	staging := filepath.Join(cfg.OutputFolder, workDir, uuid.New().String())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, fmt.Errorf("processScene.MkdirAll: %w", err)
	}
	defer os.RemoveAll(staging)
	sceneDir := filepath.Join(staging, s.ID)

	if cfg.Organize {
		if err := checkpoint(ctx, s.ID, "organize"); err != nil {
			return nil, err
		}
		if _, err := scene.Organize(ctx, s, staging); err != nil {
			return nil, err
		}
	}

	var record *metadata.Record
	if cfg.ExtractMetadata || cfg.ComputeIndices {
		if err := checkpoint(ctx, s.ID, "metadata"); err != nil {
			return nil, err
		}
		var err error
		if record, err = p.Metadata.Metadata(ctx, s); err != nil {
			return nil, err
		}
		if sensor, err := record.Sensor(); err == nil && sensor != s.Sensor {
			log.Logger(ctx).Sugar().Warnf("metadata reports %s, scene identifier %s", sensor, s.Sensor)
		}
	}
	if cfg.ExtractMetadata {
		if _, err := record.SaveTable(sceneDir); err != nil {
			return nil, err
		}
		if _, err := record.SaveFootprint(sceneDir); err != nil {
			log.Logger(ctx).Sugar().Warnf("footprint not available: %v", err)
		}
	}

	if cfg.ComputeIndices {
		calculator := index.Calculator{Registry: p.Registry, Resolver: p.Resolver}
		for _, name := range cfg.indices {
			if err := checkpoint(ctx, s.ID, "index "+name); err != nil {
				return nil, err
			}
			g, err := calculator.Compute(ctx, s, record, name)
			if err != nil {
				return nil, err
			}
			if cfg.Reproject {
				if err := p.fillSourceCRS(ctx, s, &record, g); err != nil {
					return nil, fmt.Errorf("%s.%w", name, err)
				}
				if g, err = reproject.Reproject(ctx, g, cfg.TargetCRS, cfg.reprojOpts...); err != nil {
					return nil, fmt.Errorf("%s.%w", name, err)
				}
			}
			if err := raster.Write(g, filepath.Join(sceneDir, name+".tif")); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Reproject {
		files, err := p.Resolver.ResolveAll(s)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			return nil, common.ErrBandNotFound{SceneID: s.ID, Band: "any", Sensor: s.Sensor, File: s.ID + "_*.TIF"}
		}
		for _, f := range files {
			if err := checkpoint(ctx, s.ID, "reprojection of "+f.Band.String()); err != nil {
				return nil, err
			}
			g, err := raster.Read(f.Path, 0)
			if err != nil {
				return nil, err
			}
			if err := p.fillSourceCRS(ctx, s, &record, g); err != nil {
				return nil, fmt.Errorf("%s.%w", f.Band, err)
			}
			if g, err = reproject.Reproject(ctx, g, cfg.TargetCRS, cfg.reprojOpts...); err != nil {
				return nil, fmt.Errorf("%s.%w", f.Band, err)
			}
			if err := raster.Write(g, filepath.Join(sceneDir, ReprojectedDir, f.Band.String()+".tif")); err != nil {
				return nil, err
			}
		}
	}

	if err := checkpoint(ctx, s.ID, "commit"); err != nil {
		return nil, err
	}
	return commit(staging, cfg.OutputFolder)
}

// fillSourceCRS sets the CRS of a grid without spatial reference to the projection found in the metadata of the scene.
// The metadata is loaded on first use.
func (p *Processor) fillSourceCRS(ctx context.Context, s common.Scene, record **metadata.Record, g *raster.Grid) error {
	if g.CRS != "" {
		return nil
	}
	if *record == nil {
		r, err := p.Metadata.Metadata(ctx, s)
		if err != nil {
			return fmt.Errorf("fillSourceCRS.%w", err)
		}
		*record = r
	}
	crs, err := (*record).SourceCRS()
	if err != nil {
		return fmt.Errorf("fillSourceCRS.%w", err)
	}
	log.Logger(ctx).Sugar().Debugf("no spatial reference in the raster, using %s from the metadata", crs)
	g.CRS = crs
	return nil
}

// checkpoint returns an error if the scene must be stopped before the next stage
func checkpoint(ctx context.Context, sceneID, stage string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return common.ErrTimeout{SceneID: sceneID, Stage: stage}
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// commit moves the outputs of staging into outputFolder, keeping the tree structure.
// A folder missing from outputFolder (the folder of the scene) is moved in one rename.
func commit(staging, outputFolder string) ([]string, error) {
	var outputs []string
	if err := commitDir(staging, outputFolder, &outputs); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return outputs, nil
}

func commitDir(src, dst string, outputs *[]string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		from, to := filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())
		if !e.IsDir() {
			if err := service.MoveFile(from, to); err != nil {
				return err
			}
			*outputs = append(*outputs, to)
			continue
		}
		if _, err := os.Lstat(to); err == nil {
			if err := commitDir(from, to, outputs); err != nil {
				return err
			}
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(dst, 0755); err != nil {
			return err
		}
		if err := os.Rename(from, to); err != nil {
			// Created concurrently by another scene
			if info, serr := os.Lstat(to); serr == nil && info.IsDir() {
				if err := commitDir(from, to, outputs); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if err := listFiles(to, outputs); err != nil {
			return err
		}
	}
	return nil
}

func listFiles(dir string, outputs *[]string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".") {
			*outputs = append(*outputs, path)
		}
		return nil
	})
}

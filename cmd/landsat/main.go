package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/metadata"
	"github.com/airbusgeo/landsat-processor/processor"
	"github.com/airbusgeo/landsat-processor/scene"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/geometry"
	"github.com/airbusgeo/landsat-processor/service/log"
	"github.com/go-spatial/geom"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// exitSceneFailures is the exit code of a batch with failed scenes
const exitSceneFailures = 2

type config struct {
	InputDir   string
	ConfigFile string
	Extract    bool
	AOIFile    string
	AOICover   bool
	StorageURI string
	RemoteDir  string
	NoProgress bool

	Operations processor.Operations
}

func splitList(s string) []string {
	var l []string
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			l = append(l, e)
		}
	}
	return l
}

func newAppConfig(args []string) (*config, error) {
	config := config{}
	fs := flag.NewFlagSet("landsat", flag.ContinueOnError)
	fs.StringVar(&config.InputDir, "input", os.Getenv("LANDSAT_INPUT"), "folder of the raw scenes")
	fs.StringVar(&config.ConfigFile, "config", "", "yaml file of the batch operations (optional). Flags override the file")
	fs.BoolVar(&config.Extract, "extract", false, "extract the archives (tar, tar.gz, zip) found in the input folder before processing")
	fs.StringVar(&config.AOIFile, "aoi", "", "geojson file: only the scenes whose footprint intersects the area are processed (optional)")
	fs.BoolVar(&config.AOICover, "aoi-cover", false, "with -aoi, only the scenes whose footprint covers the whole area are processed")
	fs.StringVar(&config.StorageURI, "storage-uri", "", "storage uri (currently supported: local, gs) to export the outputs (optional)")
	fs.StringVar(&config.RemoteDir, "remote-dir", "", "folder of the outputs in the storage (default: name of the output folder)")
	fs.BoolVar(&config.NoProgress, "no-progress", false, "do not display the progress bar")

	var ops processor.Operations
	var scenes, indices string
	fs.StringVar(&ops.OutputFolder, "output", os.Getenv("LANDSAT_OUTPUT"), "output folder (default: output_YYYYMMDD_HHMMSS)")
	fs.StringVar(&scenes, "scene", "", "comma-separated list of the scenes to process (default: all the scenes)")
	fs.BoolVar(&ops.Organize, "organize", false, "organize the files by sensor generation")
	fs.BoolVar(&ops.ExtractMetadata, "metadata", false, "export the metadata and the footprint of the scenes")
	fs.StringVar(&indices, "indices", "", "comma-separated list of the indices to compute (\"all\" for all the indices)")
	fs.BoolVar(&ops.Reproject, "reproject", false, "reproject the bands in target-crs")
	fs.StringVar(&ops.TargetCRS, "target-crs", os.Getenv("LANDSAT_TARGET_CRS"), "target coordinate reference system (e.g. EPSG:32633). Implies -reproject")
	fs.Float64Var(&ops.Resolution, "resolution", 0, "resolution of the reprojected rasters in target-crs units (default: estimated)")
	fs.StringVar(&ops.Resampling, "resampling", "", "resampling method: nearest (default) or bilinear")
	fs.IntVar(&ops.Workers, "workers", 0, "number of scenes processed in parallel (default: 2)")
	fs.DurationVar(&ops.SceneTimeout, "timeout", 0, "maximum duration of the processing of a scene (default: no limit)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if config.ConfigFile != "" {
		b, err := os.ReadFile(config.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &config.Operations); err != nil {
			return nil, fmt.Errorf("config file %s: %w", config.ConfigFile, err)
		}
	}
	// Flags set on the command line override the config file
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override(&config.Operations, ops, set, config.ConfigFile == "")
	if set["scene"] || config.ConfigFile == "" {
		config.Operations.SceneIDs = splitList(scenes)
	}
	if set["indices"] {
		config.Operations.ComputeIndices = true
		config.Operations.Indices = splitList(indices)
		if len(config.Operations.Indices) == 1 && strings.EqualFold(config.Operations.Indices[0], processor.AllIndices) {
			config.Operations.Indices = nil
		}
	}

	if config.InputDir == "" {
		return nil, fmt.Errorf("missing input config flag")
	}
	return &config, nil
}

// override copies the fields of src whose flag is set (all the fields if all is true)
func override(dst *processor.Operations, src processor.Operations, set map[string]bool, all bool) {
	if all || set["output"] {
		dst.OutputFolder = src.OutputFolder
	}
	if all || set["organize"] {
		dst.Organize = src.Organize
	}
	if all || set["metadata"] {
		dst.ExtractMetadata = src.ExtractMetadata
	}
	if all || set["reproject"] {
		dst.Reproject = src.Reproject
	}
	if all || set["target-crs"] || (dst.TargetCRS == "" && src.TargetCRS != "") {
		dst.TargetCRS = src.TargetCRS
	}
	if all || set["resolution"] {
		dst.Resolution = src.Resolution
	}
	if all || set["resampling"] {
		dst.Resampling = src.Resampling
	}
	if all || set["workers"] {
		dst.Workers = src.Workers
	}
	if all || set["timeout"] {
		dst.SceneTimeout = src.SceneTimeout
	}
}

// loadAOI reads the area of interest from a geojson file. The features of a collection are merged.
func loadAOI(aoiFile string) (geom.Geometry, error) {
	b, err := os.ReadFile(aoiFile)
	if err != nil {
		return nil, fmt.Errorf("loadAOI: %w", err)
	}
	aoi, err := geometry.UnmarshalGeometry(b)
	if err != nil {
		return nil, fmt.Errorf("loadAOI.%w", err)
	}
	if mp, ok := aoi.(geom.MultiPolygon); ok && len(mp) > 1 {
		var polygons []geom.Geometry
		for _, p := range mp {
			polygons = append(polygons, geom.Polygon(p))
		}
		if aoi, err = geometry.GeomUnion(polygons, geometry.TOLERANCE_GEOG); err != nil {
			return nil, fmt.Errorf("loadAOI.%w", err)
		}
	}
	return aoi, nil
}

// filterAOI keeps the scenes whose footprint intersects the area of interest (or covers it if cover is true)
func filterAOI(ctx context.Context, scenes []common.Scene, aoi geom.Geometry, cover bool) ([]common.Scene, error) {
	var selected []common.Scene
	for _, s := range scenes {
		record, err := metadata.MTLProvider{}.Metadata(ctx, s)
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("%s: footprint not available: %v", s.ID, err)
			continue
		}
		footprint, err := record.Footprint()
		if err != nil {
			log.Logger(ctx).Sugar().Warnf("%s: footprint not available: %v", s.ID, err)
			continue
		}
		var ok bool
		if cover {
			ok, err = geometry.Contains(geom.Geometry(footprint), aoi, geometry.TOLERANCE_GEOG)
		} else {
			ok, err = geometry.Intersects(geom.Geometry(footprint), aoi)
		}
		if err != nil {
			return nil, fmt.Errorf("filterAOI[%s].%w", s.ID, err)
		}
		if ok {
			selected = append(selected, s)
		}
	}
	log.Logger(ctx).Sugar().Infof("%d/%d scenes selected by the area of interest", len(selected), len(scenes))
	return selected, nil
}

func main() {
	ctx := context.Background()
	_ = godotenv.Load(".env")
	err := run(ctx)
	var failures errSceneFailures
	switch {
	case errors.As(err, &failures):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSceneFailures)
	case err != nil:
		log.Fatal("error", zap.Error(err))
	}
}

type errSceneFailures struct {
	failed, total int
}

func (e errSceneFailures) Error() string {
	return fmt.Sprintf("%d/%d scenes failed", e.failed, e.total)
}

func run(ctx context.Context) error {
	config, err := newAppConfig(os.Args[1:])
	if err != nil {
		return err
	}
	godal.RegisterAll()

	if config.Extract {
		if _, err := scene.ExtractAll(ctx, config.InputDir, config.InputDir); err != nil {
			return err
		}
	}
	scenes, err := scene.Discover(ctx, config.InputDir)
	if err != nil {
		return err
	}
	if config.AOIFile != "" {
		aoi, err := loadAOI(config.AOIFile)
		if err != nil {
			return err
		}
		if scenes, err = filterAOI(ctx, scenes, aoi, config.AOICover); err != nil {
			return err
		}
	}

	p := processor.New()
	if !config.NoProgress {
		total := len(scenes)
		if len(config.Operations.SceneIDs) > 0 {
			total = len(config.Operations.SceneIDs)
		}
		bar := progressbar.Default(int64(total), "Processing scenes")
		p.OnSceneDone = func(processor.SceneResult) { bar.Add(1) }
	}

	start := time.Now()
	res, err := p.RunBatch(ctx, scenes, config.Operations)
	if err != nil {
		return err
	}

	fmt.Printf("\nBatch done in %s, outputs in %s\n", time.Since(start).Round(time.Second), res.OutputFolder)
	for _, r := range res.Scenes() {
		if r.Status == common.StatusDONE {
			fmt.Printf("  %-45s %-6s %d outputs (%s)\n", r.SceneID, r.Status, len(r.Outputs), r.Elapsed)
		} else {
			fmt.Printf("  %-45s %-6s %s: %s\n", r.SceneID, r.Status, r.ErrorKind, r.Message)
		}
	}

	if config.StorageURI != "" {
		storage, err := service.NewStorageStrategy(ctx, config.StorageURI)
		if err != nil {
			return fmt.Errorf("storage[%s].%w", config.StorageURI, err)
		}
		remoteDir := config.RemoteDir
		if remoteDir == "" {
			remoteDir = filepath.Base(res.OutputFolder)
		}
		uris, err := storage.ExportDir(ctx, res.OutputFolder, remoteDir, false)
		if err != nil {
			return err
		}
		fmt.Printf("%d files exported to %s\n", len(uris), config.StorageURI)
	}

	if failed := res.Failed(); len(failed) > 0 {
		return errSceneFailures{failed: len(failed), total: len(res.Scenes())}
	}
	return nil
}

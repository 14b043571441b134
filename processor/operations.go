package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/index"
	"github.com/airbusgeo/landsat-processor/reproject"
)

// Operations configures a batch: which operations to perform on which scenes
type Operations struct {
	// Output folder of the batch. If empty, DefaultOutputFolder(now) in the current directory
	OutputFolder string `json:"output_folder,omitempty" yaml:"output_folder"`
	// Scenes to process. If empty, all the scenes
	SceneIDs []string `json:"scene_ids,omitempty" yaml:"scene_id"`

	Organize        bool `json:"organize,omitempty" yaml:"organize"`
	ExtractMetadata bool `json:"extract_metadata,omitempty" yaml:"extract_metadata"`
	// Compute the Indices (all the registered indices if Indices is empty)
	ComputeIndices bool     `json:"compute_indices,omitempty" yaml:"compute_indices"`
	Indices        []string `json:"indices,omitempty" yaml:"indices"`
	// Reproject the bands (and the indices) in TargetCRS. Implied by TargetCRS
	Reproject  bool    `json:"reproject,omitempty" yaml:"reproject"`
	TargetCRS  string  `json:"target_crs,omitempty" yaml:"target_crs"`
	Resolution float64 `json:"resolution,omitempty" yaml:"resolution"`
	Resampling string  `json:"resampling,omitempty" yaml:"resampling"`

	// Number of scenes processed in parallel (default: DefaultWorkers)
	Workers int `json:"workers,omitempty" yaml:"workers"`
	// Maximum duration of the processing of one scene (0: no limit)
	SceneTimeout time.Duration `json:"scene_timeout,omitempty" yaml:"scene_timeout"`
}

// DefaultWorkers is the default number of scenes processed in parallel.
// Each worker holds several full-resolution bands in memory.
const DefaultWorkers = 2

// AllIndices requests all the registered indices
const AllIndices = "all"

// OperationsFromRequest converts a job payload into batch operations
func OperationsFromRequest(req common.BatchRequest) (Operations, error) {
	ops := Operations{
		OutputFolder:    req.OutputFolder,
		SceneIDs:        req.SceneIDs,
		Organize:        req.Organize,
		ExtractMetadata: req.ExtractMetadata,
		ComputeIndices:  req.ComputeIndices || len(req.Indices) > 0,
		Indices:         req.Indices,
		Reproject:       req.Reproject,
		TargetCRS:       req.TargetCRS,
		Resolution:      req.Resolution,
		Resampling:      req.Resampling,
		Workers:         req.Workers,
	}
	if len(ops.Indices) == 1 && strings.EqualFold(ops.Indices[0], AllIndices) {
		ops.Indices = nil
	}
	if req.SceneTimeout != "" {
		d, err := time.ParseDuration(req.SceneTimeout)
		if err != nil {
			return ops, fmt.Errorf("OperationsFromRequest: scene_timeout: %w", err)
		}
		ops.SceneTimeout = d
	}
	return ops, nil
}

// DefaultOutputFolder returns the name of the output folder of a batch started at now
func DefaultOutputFolder(now time.Time) string {
	return "output_" + now.Format("20060102_150405")
}

// config is the validated form of Operations
type config struct {
	Operations
	indices    []string
	reprojOpts []reproject.Option
}

// validate checks the operations and returns the effective configuration.
// Raise ErrUnknownIndex, ErrInvalidCRS
func (ops Operations) validate(registry *index.Registry, now time.Time) (config, error) {
	cfg := config{Operations: ops}
	if cfg.OutputFolder == "" {
		cfg.OutputFolder = DefaultOutputFolder(now)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SceneTimeout < 0 {
		return cfg, fmt.Errorf("validate: negative scene timeout")
	}
	cfg.TargetCRS = strings.TrimSpace(cfg.TargetCRS)
	if cfg.TargetCRS != "" {
		cfg.Reproject = true
	}
	if len(cfg.Indices) > 0 {
		cfg.ComputeIndices = true
	}
	if !cfg.Organize && !cfg.ExtractMetadata && !cfg.ComputeIndices && !cfg.Reproject {
		return cfg, fmt.Errorf("validate: no operation requested")
	}

	if cfg.ComputeIndices {
		var err error
		if cfg.indices, err = registry.Resolve(cfg.Indices); err != nil {
			return cfg, fmt.Errorf("validate.%w", err)
		}
	}
	if cfg.Reproject {
		if err := reproject.ValidateCRS(cfg.TargetCRS); err != nil {
			return cfg, fmt.Errorf("validate.%w", err)
		}
		resampling, err := reproject.ParseResampling(cfg.Resampling)
		if err != nil {
			return cfg, fmt.Errorf("validate.%w", err)
		}
		if cfg.Resolution < 0 {
			return cfg, fmt.Errorf("validate: negative resolution")
		}
		cfg.reprojOpts = []reproject.Option{reproject.WithResolution(cfg.Resolution), reproject.WithResampling(resampling)}
	}
	return cfg, nil
}

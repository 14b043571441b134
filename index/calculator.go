package index

import (
	"context"
	"fmt"
	"math"

	"github.com/airbusgeo/landsat-processor/band"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/metadata"
	"github.com/airbusgeo/landsat-processor/raster"
	"github.com/airbusgeo/landsat-processor/service/log"
)

// Landsat Collection-2 Level-2 fill value, used when the band file does not declare its nodata
const landsatFill = 0

// Calculator computes the indices of a scene
type Calculator struct {
	Registry *Registry // Default if nil
	Resolver band.Resolver
}

type input struct {
	grid         *raster.Grid
	gain, offset float64
}

// Compute the index on the scene, using the rescale coefficients of the metadata record
// Raise ErrUnknownIndex, ErrBandNotFound, ErrUnsupportedSensor, ErrGridMismatch, ErrIncompleteMetadata
func (c Calculator) Compute(ctx context.Context, scene common.Scene, record *metadata.Record, name string) (*raster.Grid, error) {
	registry := c.Registry
	if registry == nil {
		registry = Default
	}
	def, err := registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("Compute.%w", err)
	}
	if record == nil {
		return nil, common.ErrIncompleteMetadata{SceneID: scene.ID, Key: scene.ID + "_MTL.txt"}
	}

	inputs := make([]input, len(def.Bands))
	for i, b := range def.Bands {
		if inputs[i], err = c.load(scene, record, b); err != nil {
			return nil, fmt.Errorf("Compute[%s].%w", def.Name, err)
		}
		if i > 0 {
			if err := inputs[0].grid.CheckSameGrid(inputs[i].grid); err != nil {
				return nil, fmt.Errorf("Compute[%s]: %s/%s: %w", def.Name, def.Bands[0], b, err)
			}
		}
	}

	ref := inputs[0].grid
	out := raster.NewGrid(ref.Width, ref.Height, NoData, ref.Transform, ref.CRS)
	values := make([]float64, len(inputs))
	guarded, outOfRange := 0, 0
pixels:
	for p := range out.Data {
		for i, in := range inputs {
			if !in.grid.Valid(p) {
				continue pixels
			}
			values[i] = in.grid.Data[p]*in.gain + in.offset
		}
		v, ok := def.Expr.Eval(values)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			guarded++
			continue
		}
		if v < def.Min || v > def.Max {
			outOfRange++
			continue
		}
		out.Data[p] = v
	}
	log.Logger(ctx).Sugar().Debugf("%s: %s computed (%d undefined pixels, %d out of range)", scene.ID, def.Name, guarded, outOfRange)
	return out, nil
}

func (c Calculator) load(scene common.Scene, record *metadata.Record, b band.Band) (input, error) {
	f, err := c.Resolver.Resolve(scene, b)
	if err != nil {
		return input{}, err
	}
	gain, offset, err := record.Rescale(f.Code)
	if err != nil {
		return input{}, err
	}
	g, err := raster.Read(f.Path, landsatFill)
	if err != nil {
		return input{}, err
	}
	return input{grid: g, gain: gain, offset: offset}, nil
}

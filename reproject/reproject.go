package reproject

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/raster"
	"github.com/airbusgeo/landsat-processor/service/log"
)

// Resampling method used to assign the values of the destination pixels
type Resampling int

const (
	Nearest Resampling = iota
	Bilinear
)

func (r Resampling) String() string {
	switch r {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	}
	return fmt.Sprintf("Resampling(%d)", int(r))
}

// ParseResampling returns the resampling method from its name (nearest by default)
func ParseResampling(s string) (Resampling, error) {
	switch strings.ToLower(s) {
	case "", "nearest", "near":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	}
	return Nearest, fmt.Errorf("ParseResampling: unknown resampling %s", s)
}

// Number of points along each edge of the source grid projected to compute the destination extent
const edgeDensity = 21

type options struct {
	resolution float64
	resampling Resampling
}

// Option of Reproject
type Option func(*options)

// WithResolution sets the resolution of the destination grid, in target CRS units.
// If not set (or <= 0), the native resolution of the source is estimated in the target CRS.
func WithResolution(res float64) Option {
	return func(o *options) {
		o.resolution = res
	}
}

// WithResampling sets the resampling method (default: Nearest)
func WithResampling(r Resampling) Option {
	return func(o *options) {
		o.resampling = r
	}
}

// Reproject the grid in targetCRS.
// The destination grid covers the whole projected footprint of the source; pixels outside the footprint are set to nodata.
// The CRS of the destination grid is exactly targetCRS.
// Raise ErrInvalidCRS
func Reproject(ctx context.Context, src *raster.Grid, targetCRS string, opts ...Option) (*raster.Grid, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resampling != Nearest && o.resampling != Bilinear {
		return nil, fmt.Errorf("Reproject: unsupported resampling %v", o.resampling)
	}

	dstSR, err := parseCRS(targetCRS)
	if err != nil {
		return nil, fmt.Errorf("Reproject.%w", err)
	}
	defer dstSR.Close()
	srcSR, err := parseCRS(src.CRS)
	if err != nil {
		return nil, fmt.Errorf("Reproject[source].%w", err)
	}
	defer srcSR.Close()

	forward, err := godal.NewTransform(srcSR, dstSR)
	if err != nil {
		return nil, fmt.Errorf("Reproject.NewTransform: %w", err)
	}
	defer forward.Close()
	backward, err := godal.NewTransform(dstSR, srcSR)
	if err != nil {
		return nil, fmt.Errorf("Reproject.NewTransform: %w", err)
	}
	defer backward.Close()

	gt, width, height, err := destinationGrid(src, forward, o.resolution)
	if err != nil {
		return nil, fmt.Errorf("Reproject.%w", err)
	}
	dst := raster.NewGrid(width, height, src.NoData, gt, targetCRS)
	if err := resample(src, dst, backward, o.resampling); err != nil {
		return nil, fmt.Errorf("Reproject.%w", err)
	}
	rx, _ := gt.Resolution()
	log.Logger(ctx).Sugar().Debugf("reprojected %dx%d grid from %s to %s: %dx%d pixels at %g, bounds %v", src.Width, src.Height, src.CRS, targetCRS, width, height, rx, dst.Bounds())
	return dst, nil
}

// ValidateCRS returns ErrInvalidCRS if crs is empty or cannot be parsed
func ValidateCRS(crs string) error {
	sr, err := parseCRS(crs)
	if err != nil {
		return err
	}
	sr.Close()
	return nil
}

func parseCRS(crs string) (*godal.SpatialRef, error) {
	if strings.TrimSpace(crs) == "" {
		return nil, common.ErrInvalidCRS{CRS: crs}
	}
	sr, err := godal.NewSpatialRef(crs)
	if err != nil {
		return nil, common.ErrInvalidCRS{CRS: crs, Err: err}
	}
	return sr, nil
}

// edges returns points along the border of the grid, in source coordinates
func edges(g *raster.Grid) ([]float64, []float64) {
	w, h := float64(g.Width), float64(g.Height)
	xs := make([]float64, 0, 4*edgeDensity)
	ys := make([]float64, 0, 4*edgeDensity)
	add := func(col, row float64) {
		x, y := g.Transform.Apply(col, row)
		xs = append(xs, x)
		ys = append(ys, y)
	}
	for i := 0; i < edgeDensity; i++ {
		f := float64(i) / float64(edgeDensity-1)
		add(f*w, 0)
		add(w, f*h)
		add(w-f*w, h)
		add(0, h-f*h)
	}
	return xs, ys
}

// destinationGrid computes the transform and the shape of the grid enclosing the projected source.
// The extent is snapped to a multiple of the resolution.
func destinationGrid(src *raster.Grid, forward *godal.Transform, resolution float64) (raster.GeoTransform, int, int, error) {
	if src.Width <= 0 || src.Height <= 0 {
		return raster.GeoTransform{}, 0, 0, fmt.Errorf("destinationGrid: empty source grid")
	}
	xs, ys := edges(src)
	ok := make([]bool, len(xs))
	// The error only reports that some points failed: ok tells which ones
	_ = forward.TransformEx(xs, ys, nil, ok)
	minx, miny, maxx, maxy := math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)
	for i := range xs {
		if !ok[i] || math.IsInf(xs[i], 0) || math.IsInf(ys[i], 0) {
			continue
		}
		minx, maxx = math.Min(minx, xs[i]), math.Max(maxx, xs[i])
		miny, maxy = math.Min(miny, ys[i]), math.Max(maxy, ys[i])
	}
	if minx > maxx || miny > maxy {
		return raster.GeoTransform{}, 0, 0, fmt.Errorf("destinationGrid: the source cannot be projected in the target CRS")
	}

	if resolution <= 0 {
		// Same number of pixels along the diagonal
		resolution = math.Hypot(maxx-minx, maxy-miny) / math.Hypot(float64(src.Width), float64(src.Height))
	}
	minx = math.Floor(minx/resolution) * resolution
	miny = math.Floor(miny/resolution) * resolution
	maxx = math.Ceil(maxx/resolution) * resolution
	maxy = math.Ceil(maxy/resolution) * resolution
	width := int(math.Round((maxx - minx) / resolution))
	height := int(math.Round((maxy - miny) / resolution))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return raster.GeoTransform{minx, resolution, 0, maxy, 0, -resolution}, width, height, nil
}

// resample maps the centre of each destination pixel into the source grid.
// Pixels whose centre cannot be transformed are left to nodata.
func resample(src, dst *raster.Grid, backward *godal.Transform, method Resampling) error {
	inv, err := src.Transform.Invert()
	if err != nil {
		return fmt.Errorf("resample.%w", err)
	}
	xs := make([]float64, dst.Width)
	ys := make([]float64, dst.Width)
	ok := make([]bool, dst.Width)
	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			xs[col], ys[col] = dst.Transform.Apply(float64(col)+0.5, float64(row)+0.5)
			ok[col] = false
		}
		_ = backward.TransformEx(xs, ys, nil, ok)
		for col := 0; col < dst.Width; col++ {
			if !ok[col] {
				continue
			}
			c, r := inv.Apply(xs[col], ys[col])
			if v, valid := sample(src, c, r, method); valid {
				dst.Data[row*dst.Width+col] = v
			}
		}
	}
	return nil
}

func sample(src *raster.Grid, c, r float64, method Resampling) (float64, bool) {
	if math.IsNaN(c) || math.IsNaN(r) || c < 0 || r < 0 || c >= float64(src.Width) || r >= float64(src.Height) {
		return 0, false
	}
	if method == Bilinear {
		if v, ok := bilinear(src, c-0.5, r-0.5); ok {
			return v, true
		}
	}
	i := int(r)*src.Width + int(c)
	return src.Data[i], src.Valid(i)
}

// bilinear interpolates between the four surrounding pixel centres.
// It fails on the border of the grid or if one of the pixels is nodata.
func bilinear(src *raster.Grid, c, r float64) (float64, bool) {
	c0, r0 := int(math.Floor(c)), int(math.Floor(r))
	if c0 < 0 || r0 < 0 || c0+1 >= src.Width || r0+1 >= src.Height {
		return 0, false
	}
	dc, dr := c-float64(c0), r-float64(r0)
	var v float64
	for _, p := range [4]struct {
		i int
		w float64
	}{
		{r0*src.Width + c0, (1 - dc) * (1 - dr)},
		{r0*src.Width + c0 + 1, dc * (1 - dr)},
		{(r0+1)*src.Width + c0, (1 - dc) * dr},
		{(r0+1)*src.Width + c0 + 1, dc * dr},
	} {
		if !src.Valid(p.i) {
			return 0, false
		}
		v += p.w * src.Data[p.i]
	}
	return v, true
}

package raster

import (
	"fmt"
	"math"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service"
)

// MetadataCRS is the dataset metadata key storing the CRS identifier as requested by the user
const MetadataCRS = "CRS"

// GeoTransform is the affine pixel-to-geocoordinate transform, following GDAL conventions:
// x = gt[0] + col*gt[1] + row*gt[2]
// y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// Apply returns the coordinates of the pixel position (col, row)
func (gt GeoTransform) Apply(col, row float64) (float64, float64) {
	return gt[0] + col*gt[1] + row*gt[2], gt[3] + col*gt[4] + row*gt[5]
}

// Invert returns the inverse transform (coordinates to pixel position)
func (gt GeoTransform) Invert() (GeoTransform, error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 {
		return GeoTransform{}, fmt.Errorf("GeoTransform.Invert: transform is not invertible")
	}
	inv := GeoTransform{}
	inv[1] = gt[5] / det
	inv[2] = -gt[2] / det
	inv[4] = -gt[4] / det
	inv[5] = gt[1] / det
	inv[0] = -gt[0]*inv[1] - gt[3]*inv[2]
	inv[3] = -gt[0]*inv[4] - gt[3]*inv[5]
	return inv, nil
}

// Resolution returns the size of a pixel along x and y
func (gt GeoTransform) Resolution() (float64, float64) {
	return math.Hypot(gt[1], gt[4]), math.Hypot(gt[2], gt[5])
}

// Grid is a single-band raster
type Grid struct {
	Width, Height int
	Data          []float64 // row-major
	NoData        float64
	Transform     GeoTransform
	CRS           string
}

// NewGrid creates a grid filled with nodata
func NewGrid(width, height int, nodata float64, gt GeoTransform, crs string) *Grid {
	g := &Grid{Width: width, Height: height, Data: make([]float64, width*height), NoData: nodata, Transform: gt, CRS: crs}
	for i := range g.Data {
		g.Data[i] = nodata
	}
	return g
}

// Valid returns true if the pixel i holds a measurement
func (g *Grid) Valid(i int) bool {
	v := g.Data[i]
	return v != g.NoData && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CheckSameGrid returns ErrGridMismatch if the two grids do not share shape, transform and CRS
func (g *Grid) CheckSameGrid(o *Grid) error {
	if g.Width != o.Width || g.Height != o.Height {
		return common.ErrGridMismatch{Reason: fmt.Sprintf("shape %dx%d != %dx%d", g.Width, g.Height, o.Width, o.Height)}
	}
	if g.Transform != o.Transform {
		return common.ErrGridMismatch{Reason: fmt.Sprintf("transform %v != %v", g.Transform, o.Transform)}
	}
	if g.CRS != o.CRS {
		return common.ErrGridMismatch{Reason: fmt.Sprintf("crs %s != %s", g.CRS, o.CRS)}
	}
	return nil
}

// Bounds returns the extent (minx, miny, maxx, maxy) of the grid
func (g *Grid) Bounds() [4]float64 {
	b := [4]float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, c := range [][2]float64{{0, 0}, {float64(g.Width), 0}, {float64(g.Width), float64(g.Height)}, {0, float64(g.Height)}} {
		x, y := g.Transform.Apply(c[0], c[1])
		b[0], b[1] = math.Min(b[0], x), math.Min(b[1], y)
		b[2], b[3] = math.Max(b[2], x), math.Max(b[3], y)
	}
	return b
}

// ErrorHandler ignores GDAL warnings
func ErrorHandler(ec godal.ErrorCategory, code int, msg string) error {
	if ec == godal.CE_Warning {
		return nil
	}
	return fmt.Errorf("GDAL error %d: %s", code, msg)
}

// Read decodes the first band of the raster file.
// If the file has no nodata value, defaultNoData is used.
func Read(path string, defaultNoData float64) (*Grid, error) {
	ds, err := godal.Open(path, godal.ErrLogger(ErrorHandler))
	if err != nil {
		return nil, fmt.Errorf("Read.Open[%s]: %w", path, err)
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, fmt.Errorf("Read[%s]: no band", path)
	}
	st := ds.Structure()
	g := &Grid{Width: st.SizeX, Height: st.SizeY, Data: make([]float64, st.SizeX*st.SizeY), NoData: defaultNoData}
	if err := bands[0].Read(0, 0, g.Data, g.Width, g.Height); err != nil {
		return nil, fmt.Errorf("Read.Read[%s]: %w", path, err)
	}
	if nd, ok := bands[0].NoData(); ok {
		g.NoData = nd
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("Read.GeoTransform[%s]: %w", path, err)
	}
	g.Transform = gt

	if crs := ds.Metadata(MetadataCRS); crs != "" {
		g.CRS = crs
	} else if ds.Projection() != "" {
		sr := ds.SpatialRef()
		defer sr.Close()
		if name, code := sr.AuthorityName(""), sr.AuthorityCode(""); name != "" && code != "" {
			g.CRS = name + ":" + code
		} else if wkt, err := sr.WKT(); err == nil {
			g.CRS = wkt
		}
	}
	return g, nil
}

// Write encodes the grid as a Float32 GeoTIFF, atomically
func Write(g *Grid, path string) error {
	err := service.WriteFileAtomic(path, func(tmp string) error {
		return write(g, tmp)
	})
	if err != nil {
		return fmt.Errorf("Write.%w", err)
	}
	return nil
}

func write(g *Grid, path string) error {
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float32, g.Width, g.Height, godal.CreationOption("TILED=YES"), godal.ErrLogger(ErrorHandler))
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	if err := writeDataset(ds, g); err != nil {
		ds.Close()
		return err
	}
	if err := ds.Close(); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return nil
}

func writeDataset(ds *godal.Dataset, g *Grid) error {
	if err := ds.SetGeoTransform(g.Transform); err != nil {
		return fmt.Errorf("SetGeoTransform: %w", err)
	}
	if g.CRS != "" {
		sr, err := godal.NewSpatialRef(g.CRS)
		if err != nil {
			return common.ErrInvalidCRS{CRS: g.CRS, Err: err}
		}
		defer sr.Close()
		if err := ds.SetSpatialRef(sr); err != nil {
			return fmt.Errorf("SetSpatialRef: %w", err)
		}
		if err := ds.SetMetadata(MetadataCRS, g.CRS); err != nil {
			return fmt.Errorf("SetMetadata: %w", err)
		}
	}
	band := ds.Bands()[0]
	if err := band.SetNoData(g.NoData); err != nil {
		return fmt.Errorf("SetNoData: %w", err)
	}
	data := make([]float32, len(g.Data))
	for i, v := range g.Data {
		data[i] = float32(v)
	}
	if err := band.Write(0, 0, data, g.Width, g.Height); err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	return nil
}

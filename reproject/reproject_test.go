package reproject

import (
	"context"
	"os"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/raster"
)

func TestMain(m *testing.M) {
	godal.RegisterAll()
	os.Exit(m.Run())
}

func testGrid() *raster.Grid {
	g := raster.NewGrid(40, 30, 0, raster.GeoTransform{399960, 30, 0, 5800020, 0, -30}, "EPSG:32633")
	for i := range g.Data {
		g.Data[i] = float64(i%17 + 1)
	}
	g.Data[0] = 0
	return g
}

func TestInvalidCRS(t *testing.T) {
	ctx := context.Background()
	for _, crs := range []string{"", "  ", "EPSG:999999", "not a crs"} {
		if _, err := Reproject(ctx, testGrid(), crs); common.KindOf(err) != common.KindInvalidCRS {
			t.Errorf("%q: expected InvalidCRSError, got %v", crs, err)
		}
		if err := ValidateCRS(crs); common.KindOf(err) != common.KindInvalidCRS {
			t.Errorf("%q: expected InvalidCRSError, got %v", crs, err)
		}
	}
	if err := ValidateCRS("EPSG:32633"); err != nil {
		t.Error(err)
	}
}

func TestIdentity(t *testing.T) {
	src := testGrid()
	dst, err := Reproject(context.Background(), src, "EPSG:32633", WithResolution(30))
	if err != nil {
		t.Fatal(err)
	}
	if err := dst.CheckSameGrid(src); err != nil {
		t.Fatal(err)
	}
	for i := range src.Data {
		if dst.Data[i] != src.Data[i] {
			t.Errorf("pixel %d: expected %f, got %f", i, src.Data[i], dst.Data[i])
		}
	}
}

func TestDeterministic(t *testing.T) {
	ctx := context.Background()
	a, err := Reproject(ctx, testGrid(), "EPSG:4326")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Reproject(ctx, testGrid(), "EPSG:4326")
	if err != nil {
		t.Fatal(err)
	}
	if a.CRS != "EPSG:4326" {
		t.Errorf("expected EPSG:4326, got %s", a.CRS)
	}
	if err := a.CheckSameGrid(b); err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("pixel %d differs: %f != %f", i, a.Data[i], b.Data[i])
		}
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := testGrid()
	for _, method := range []Resampling{Nearest, Bilinear} {
		b, err := Reproject(ctx, src, "EPSG:32632", WithResampling(method))
		if err != nil {
			t.Fatal(err)
		}
		a, err := Reproject(ctx, b, "EPSG:32633", WithResolution(30), WithResampling(method))
		if err != nil {
			t.Fatal(err)
		}
		if a.CRS != "EPSG:32633" {
			t.Errorf("expected EPSG:32633, got %s", a.CRS)
		}
		ob, rb := src.Bounds(), a.Bounds()
		if rb[0] > ob[0] || rb[1] > ob[1] || rb[2] < ob[2] || rb[3] < ob[3] {
			t.Errorf("%v: footprint %v does not enclose %v", method, rb, ob)
		}
		// Interior pixels are not lost
		inv, _ := a.Transform.Invert()
		for _, p := range [][2]float64{{20, 15}, {5, 5}, {35, 25}} {
			x, y := src.Transform.Apply(p[0]+0.5, p[1]+0.5)
			c, r := inv.Apply(x, y)
			if !a.Valid(int(r)*a.Width + int(c)) {
				t.Errorf("%v: interior pixel %v lost", method, p)
			}
		}
	}
}

// Orthographic projection centred on (0, 0): the far hemisphere cannot be projected
const orthographic = "+proj=ortho +lat_0=0 +lon_0=0 +R=6378137 +units=m +no_defs"

func fill(g *raster.Grid, v float64) *raster.Grid {
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

func TestPartiallyProjectedEdges(t *testing.T) {
	// The corners of the grid are outside the disc of the projection
	src := fill(raster.NewGrid(20, 20, 0, raster.GeoTransform{-5e6, 5e5, 0, 5e6, 0, -5e5}, orthographic), 1)
	dst, err := Reproject(context.Background(), src, "EPSG:4326")
	if err != nil {
		t.Fatal(err)
	}
	if dst.CRS != "EPSG:4326" {
		t.Errorf("expected EPSG:4326, got %s", dst.CRS)
	}
	inv, _ := dst.Transform.Invert()
	c, r := inv.Apply(0, 0)
	if i := int(r)*dst.Width + int(c); !dst.Valid(i) || dst.Data[i] != 1 {
		t.Errorf("the centre of the grid is lost")
	}
}

func TestResamplePartialRow(t *testing.T) {
	src := fill(raster.NewGrid(14, 4, 0, raster.GeoTransform{-7e6, 1e6, 0, 2e6, 0, -1e6}, orthographic), 1)
	// Pixel centres from lon 5 to lon 175: only the first half is visible
	dst := raster.NewGrid(18, 2, 0, raster.GeoTransform{0, 10, 0, 10, 0, -10}, "EPSG:4326")

	srcSR, err := parseCRS(src.CRS)
	if err != nil {
		t.Fatal(err)
	}
	defer srcSR.Close()
	dstSR, err := parseCRS(dst.CRS)
	if err != nil {
		t.Fatal(err)
	}
	defer dstSR.Close()
	backward, err := godal.NewTransform(dstSR, srcSR)
	if err != nil {
		t.Fatal(err)
	}
	defer backward.Close()

	if err := resample(src, dst, backward, Nearest); err != nil {
		t.Fatal(err)
	}
	for row := 0; row < dst.Height; row++ {
		for col := 0; col < dst.Width; col++ {
			lon := 10*col + 5
			if valid := dst.Valid(row*dst.Width + col); valid != (lon < 90) {
				t.Errorf("lon %d, row %d: expected valid=%v", lon, row, lon < 90)
			}
		}
	}
}

func TestParseResampling(t *testing.T) {
	if r, err := ParseResampling(""); err != nil || r != Nearest {
		t.Errorf("expected nearest by default")
	}
	if r, err := ParseResampling("Bilinear"); err != nil || r != Bilinear {
		t.Errorf("expected bilinear")
	}
	if _, err := ParseResampling("cubic"); err == nil {
		t.Errorf("expected an error")
	}
}

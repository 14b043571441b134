package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/go-spatial/geom"
)

func TestNewAppConfig(t *testing.T) {
	cfg, err := newAppConfig([]string{"-input", "/data", "-scene", "LC08_L2SP_190024_20240716_20240723_02_T1, LC09_L2SP_166003_20250603_20250604_02_T2", "-indices", "ndvi,EVI", "-target-crs", "EPSG:32633", "-timeout", "1m"})
	if err != nil {
		t.Fatal(err)
	}
	ops := cfg.Operations
	if !reflect.DeepEqual(ops.SceneIDs, []string{"LC08_L2SP_190024_20240716_20240723_02_T1", "LC09_L2SP_166003_20250603_20250604_02_T2"}) {
		t.Errorf("unexpected scenes %v", ops.SceneIDs)
	}
	if !ops.ComputeIndices || !reflect.DeepEqual(ops.Indices, []string{"ndvi", "EVI"}) {
		t.Errorf("unexpected indices %v", ops.Indices)
	}
	if ops.TargetCRS != "EPSG:32633" || ops.SceneTimeout != time.Minute {
		t.Errorf("unexpected operations %+v", ops)
	}

	cfg, err = newAppConfig([]string{"-input", "/data", "-indices", "all"})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Operations.ComputeIndices || cfg.Operations.Indices != nil {
		t.Errorf("expected all the indices, got %v", cfg.Operations.Indices)
	}

	if _, err := newAppConfig([]string{"-indices", "ndvi"}); err == nil && os.Getenv("LANDSAT_INPUT") == "" {
		t.Errorf("expected an error")
	}
}

func TestConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "batch.yaml")
	yml := `output_folder: /out
scene_id:
  - LC08_L2SP_190024_20240716_20240723_02_T1
organize: true
indices: [NDVI, NBR]
target_crs: EPSG:4326
resolution: 0.001
workers: 4
`
	if err := os.WriteFile(file, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := newAppConfig([]string{"-input", "/data", "-config", file, "-workers", "2"})
	if err != nil {
		t.Fatal(err)
	}
	ops := cfg.Operations
	if ops.OutputFolder != "/out" || !ops.Organize || ops.TargetCRS != "EPSG:4326" || ops.Resolution != 0.001 {
		t.Errorf("unexpected operations %+v", ops)
	}
	if !reflect.DeepEqual(ops.Indices, []string{"NDVI", "NBR"}) || len(ops.SceneIDs) != 1 {
		t.Errorf("unexpected operations %+v", ops)
	}
	if ops.Workers != 2 {
		t.Errorf("the flag must override the file: got %d workers", ops.Workers)
	}

	if _, err := newAppConfig([]string{"-input", "/data", "-config", filepath.Join(t.TempDir(), "none.yaml")}); err == nil {
		t.Errorf("expected an error")
	}
}

const aoiTemplate = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[%[1]g,51],[%[2]g,51],[%[2]g,51.5],[%[1]g,51.5],[%[1]g,51]]]}},
{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[%[2]g,51],[%[3]g,51],[%[3]g,51.5],[%[2]g,51.5],[%[2]g,51]]]}}
]}`

func TestFilterAOI(t *testing.T) {
	ctx := context.Background()
	scenes := []common.Scene{{ID: "LC08_L2SP_190024_20240716_20240723_02_T1", Sensor: common.Landsat8, Dir: filepath.Join("..", "..", "metadata", "testdata")}}

	tests := map[string]struct {
		lons      [3]float64
		intersect bool
		cover     bool
	}{
		"inside":   {[3]float64{13, 14, 15}, true, true},
		"crossing": {[3]float64{15, 16, 17}, true, false},
		"outside":  {[3]float64{20, 21, 22}, false, false},
	}
	for name, tc := range tests {
		file := filepath.Join(t.TempDir(), "aoi.geojson")
		if err := os.WriteFile(file, []byte(fmt.Sprintf(aoiTemplate, tc.lons[0], tc.lons[1], tc.lons[2])), 0644); err != nil {
			t.Fatal(err)
		}
		aoi, err := loadAOI(file)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if _, ok := aoi.(geom.Polygon); !ok {
			t.Errorf("%s: the features must be merged into one polygon, got %T", name, aoi)
		}
		for cover, expected := range map[bool]bool{false: tc.intersect, true: tc.cover} {
			selected, err := filterAOI(ctx, scenes, aoi, cover)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if (len(selected) == 1) != expected {
				t.Errorf("%s (cover=%v): expected selected=%v, got %v", name, cover, expected, selected)
			}
		}
	}
}

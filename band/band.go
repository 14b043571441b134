package band

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/landsat-processor/common"
)

// Band is a sensor-independent spectral channel
type Band int

const (
	Coastal Band = iota + 1
	Blue
	Green
	Red
	NIR
	SWIR1
	SWIR2
	Thermal
)

var bandNames = map[Band]string{
	Coastal: "Coastal",
	Blue:    "Blue",
	Green:   "Green",
	Red:     "Red",
	NIR:     "NIR",
	SWIR1:   "SWIR1",
	SWIR2:   "SWIR2",
	Thermal: "Thermal",
}

// All lists the logical bands in spectral order
var All = []Band{Coastal, Blue, Green, Red, NIR, SWIR1, SWIR2, Thermal}

func (b Band) String() string {
	if n, ok := bandNames[b]; ok {
		return n
	}
	return fmt.Sprintf("Band(%d)", int(b))
}

// ParseBand returns the band from its name (case insensitive)
func ParseBand(name string) (Band, error) {
	for b, n := range bandNames {
		if strings.EqualFold(n, name) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("ParseBand: unknown band %s", name)
}

// Code is the band code used in the Collection-2 file names (e.g. SR_B4, ST_B10)
type Code string

// Number returns the sensor band number
func (c Code) Number() int {
	n, _ := strconv.Atoi(string(c)[strings.LastIndex(string(c), "B")+1:])
	return n
}

// Thermal returns true for a surface-temperature band
func (c Code) Thermal() bool {
	return strings.HasPrefix(string(c), "ST_")
}

// table is an immutable mapping from logical band to file-name band code
type table map[Band]Code

var (
	etmTable = table{
		Blue:    "SR_B1",
		Green:   "SR_B2",
		Red:     "SR_B3",
		NIR:     "SR_B4",
		SWIR1:   "SR_B5",
		SWIR2:   "SR_B7",
		Thermal: "ST_B6",
	}
	oliTable = table{
		Coastal: "SR_B1",
		Blue:    "SR_B2",
		Green:   "SR_B3",
		Red:     "SR_B4",
		NIR:     "SR_B5",
		SWIR1:   "SR_B6",
		SWIR2:   "SR_B7",
		Thermal: "ST_B10",
	}
)

var tables = map[common.SensorGeneration]table{
	common.Landsat7: etmTable,
	common.Landsat8: oliTable,
	common.Landsat9: oliTable,
}

func tableOf(sensor common.SensorGeneration) (table, error) {
	t, ok := tables[sensor]
	if !ok {
		return nil, common.ErrUnsupportedSensor{Sensor: sensor}
	}
	return t, nil
}

// CodeOf returns the file-name band code of the band for the sensor generation
// Raise ErrUnsupportedSensor, ErrBandNotFound
func CodeOf(sensor common.SensorGeneration, b Band) (Code, error) {
	t, err := tableOf(sensor)
	if err != nil {
		return "", err
	}
	c, ok := t[b]
	if !ok {
		return "", common.ErrBandNotFound{Band: b.String(), Sensor: sensor}
	}
	return c, nil
}

// Supported returns the logical bands of the sensor generation in spectral order
func Supported(sensor common.SensorGeneration) ([]Band, error) {
	t, err := tableOf(sensor)
	if err != nil {
		return nil, err
	}
	var bands []Band
	for _, b := range All {
		if _, ok := t[b]; ok {
			bands = append(bands, b)
		}
	}
	return bands, nil
}

// File is a band file of a scene
type File struct {
	Band   Band
	Code   Code
	Sensor common.SensorGeneration
	Path   string
}

// FileName returns the expected name of the band file of a scene
func FileName(sceneID string, code Code) string {
	return fmt.Sprintf("%s_%s.TIF", sceneID, code)
}

// Resolver maps logical bands to the files of a scene
type Resolver struct{}

// Resolve returns the file of the band for the scene.
// The sensor generation of the scene selects the band table.
// Raise ErrUnsupportedSensor, ErrBandNotFound
func (r Resolver) Resolve(scene common.Scene, b Band) (File, error) {
	code, err := CodeOf(scene.Sensor, b)
	if err != nil {
		if e, ok := err.(common.ErrBandNotFound); ok {
			e.SceneID = scene.ID
			return File{}, e
		}
		return File{}, err
	}
	expected := FileName(scene.ID, code)
	name, ok := findFile(scene, expected)
	if !ok {
		return File{}, common.ErrBandNotFound{SceneID: scene.ID, Band: b.String(), Sensor: scene.Sensor, File: expected}
	}
	return File{Band: b, Code: code, Sensor: scene.Sensor, Path: filepath.Join(scene.Dir, name)}, nil
}

// ResolveAll returns the files of all the bands of the scene that are available
func (r Resolver) ResolveAll(scene common.Scene) ([]File, error) {
	bands, err := Supported(scene.Sensor)
	if err != nil {
		return nil, err
	}
	var files []File
	for _, b := range bands {
		f, err := r.Resolve(scene, b)
		if err != nil {
			if _, ok := err.(common.ErrBandNotFound); ok {
				continue
			}
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// findFile looks for the file (case-insensitive) in scene.Files or, if empty, in scene.Dir
func findFile(scene common.Scene, expected string) (string, bool) {
	files := scene.Files
	if len(files) == 0 {
		entries, err := os.ReadDir(scene.Dir)
		if err != nil {
			return "", false
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, e.Name())
			}
		}
	}
	for _, f := range files {
		if strings.EqualFold(f, expected) {
			return f, true
		}
	}
	return "", false
}

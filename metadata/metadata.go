package metadata

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/landsat-processor/band"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/geometry"
	"github.com/araddon/dateparse"
	"github.com/go-spatial/geom"
)

// Groups of the Collection-2 MTL file holding the rescale coefficients
const (
	GroupSurfaceReflectance = "LEVEL2_SURFACE_REFLECTANCE_PARAMETERS"
	GroupSurfaceTemperature = "LEVEL2_SURFACE_TEMPERATURE_PARAMETERS"
)

// Entry is a key/value of the metadata
type Entry struct {
	Key   string
	Value string
}

// Group is a named set of entries
type Group struct {
	Name    string
	Entries []Entry
}

// Record is the flat key-value metadata of a scene.
// A key can be requested as "KEY" (first occurrence in the file) or "GROUP.KEY".
type Record struct {
	SceneID string
	Groups  []Group
	values  map[string]string
}

// Provider supplies the metadata record of a scene
type Provider interface {
	Metadata(ctx context.Context, scene common.Scene) (*Record, error)
}

// MTLProvider reads the <scene_id>_MTL.txt file of the scene directory
type MTLProvider struct{}

// Metadata implements Provider
// Raise ErrIncompleteMetadata if the MTL file is not found
func (MTLProvider) Metadata(ctx context.Context, scene common.Scene) (*Record, error) {
	path, ok := MTLFile(scene)
	if !ok {
		return nil, common.ErrIncompleteMetadata{SceneID: scene.ID, Key: scene.ID + "_MTL.txt"}
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("Metadata.Open: %w", err)
	}
	defer f.Close()
	r, err := Parse(scene.ID, f)
	if err != nil {
		return nil, fmt.Errorf("Metadata[%s].%w", scene.ID, err)
	}
	return r, nil
}

// MTLFile returns the path of the MTL file of the scene
func MTLFile(scene common.Scene) (string, bool) {
	expected := strings.ToLower(scene.ID + "_MTL.txt")
	if len(scene.Files) > 0 {
		for _, f := range scene.Files {
			if strings.ToLower(f) == expected {
				return filepath.Join(scene.Dir, f), true
			}
		}
		return "", false
	}
	entries, err := os.ReadDir(scene.Dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if strings.ToLower(e.Name()) == expected {
			return filepath.Join(scene.Dir, e.Name()), true
		}
	}
	return "", false
}

// NewRecord creates a record from a flat key-value mapping, stored in one group
func NewRecord(sceneID, group string, values map[string]string) *Record {
	r := &Record{SceneID: sceneID, values: map[string]string{}}
	g := Group{Name: group}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g.Entries = append(g.Entries, Entry{Key: k, Value: values[k]})
	}
	r.addGroup(g)
	return r
}

// Parse reads an ODL metadata file (GROUP = X / KEY = VALUE / END_GROUP = X / END)
func Parse(sceneID string, rd io.Reader) (*Record, error) {
	r := &Record{SceneID: sceneID, values: map[string]string{}}
	var stack []*Group
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "END" {
			break
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "GROUP":
			stack = append(stack, &Group{Name: value})
		case "END_GROUP":
			if len(stack) == 0 {
				return nil, fmt.Errorf("Parse: unexpected END_GROUP = %s", value)
			}
			r.addGroup(*stack[len(stack)-1])
			stack = stack[:len(stack)-1]
		default:
			if len(stack) == 0 {
				continue
			}
			g := stack[len(stack)-1]
			g.Entries = append(g.Entries, Entry{Key: key, Value: value})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("Parse: %w", err)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("Parse: unterminated GROUP %s", stack[len(stack)-1].Name)
	}
	return r, nil
}

func (r *Record) addGroup(g Group) {
	if len(g.Entries) == 0 {
		return
	}
	r.Groups = append(r.Groups, g)
	for _, e := range g.Entries {
		r.values[g.Name+"."+e.Key] = e.Value
		if _, ok := r.values[e.Key]; !ok {
			r.values[e.Key] = e.Value
		}
	}
}

// Get returns the value of the key ("KEY" or "GROUP.KEY")
func (r *Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Len returns the number of distinct keys
func (r *Record) Len() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Entries)
	}
	return n
}

func (r *Record) float(keys ...string) (float64, error) {
	for _, key := range keys {
		if v, ok := r.values[key]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: key}
			}
			return f, nil
		}
	}
	return 0, common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: keys[len(keys)-1]}
}

// Sensor returns the sensor generation from SPACECRAFT_ID
func (r *Record) Sensor() (common.SensorGeneration, error) {
	v, ok := r.Get("SPACECRAFT_ID")
	if !ok {
		return common.UnknownSensor, common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: "SPACECRAFT_ID"}
	}
	s := common.GetSensorFromString(v)
	if !s.Supported() {
		return s, common.ErrUnsupportedSensor{Sensor: s}
	}
	return s, nil
}

// AcquisitionTime returns the acquisition timestamp (DATE_ACQUIRED and SCENE_CENTER_TIME)
func (r *Record) AcquisitionTime() (time.Time, error) {
	date, ok := r.Get("DATE_ACQUIRED")
	if !ok {
		return time.Time{}, common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: "DATE_ACQUIRED"}
	}
	if hour, ok := r.Get("SCENE_CENTER_TIME"); ok {
		date += "T" + hour
	}
	t, err := dateparse.ParseIn(date, time.UTC)
	if err != nil {
		return time.Time{}, common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: "DATE_ACQUIRED"}
	}
	return t, nil
}

// Rescale returns the gain and offset converting the digital numbers of the band into
// surface reflectance (SR bands) or surface temperature (ST bands).
// Raise ErrIncompleteMetadata
func (r *Record) Rescale(code band.Code) (gain, offset float64, err error) {
	var mult, add, group string
	if code.Thermal() {
		group = GroupSurfaceTemperature
		mult, add = "TEMPERATURE_MULT_BAND_"+string(code), "TEMPERATURE_ADD_BAND_"+string(code)
	} else {
		group = GroupSurfaceReflectance
		mult, add = fmt.Sprintf("REFLECTANCE_MULT_BAND_%d", code.Number()), fmt.Sprintf("REFLECTANCE_ADD_BAND_%d", code.Number())
	}
	if gain, err = r.float(group+"."+mult, mult); err != nil {
		return 0, 0, err
	}
	if offset, err = r.float(group+"."+add, add); err != nil {
		return 0, 0, err
	}
	return gain, offset, nil
}

// Corners are the four corners of a scene (upper-left, upper-right, lower-right, lower-left)
type Corners [4][2]float64

var cornerNames = [4]string{"UL", "UR", "LR", "LL"}

// GeographicCorners returns the (lon, lat) corners of the product
func (r *Record) GeographicCorners() (Corners, error) {
	var c Corners
	for i, n := range cornerNames {
		x, err := r.float(fmt.Sprintf("CORNER_%s_LON_PRODUCT", n))
		if err != nil {
			return c, err
		}
		y, err := r.float(fmt.Sprintf("CORNER_%s_LAT_PRODUCT", n))
		if err != nil {
			return c, err
		}
		c[i] = [2]float64{x, y}
	}
	return c, nil
}

// SourceCRS returns the identifier of the projection of the product
func (r *Record) SourceCRS() (string, error) {
	proj, ok := r.Get("MAP_PROJECTION")
	if !ok {
		return "", common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: "MAP_PROJECTION"}
	}
	switch strings.ToUpper(proj) {
	case "UTM":
		zone, err := r.float("UTM_ZONE")
		if err != nil {
			return "", err
		}
		if zone < 1 || zone > 60 {
			return "", common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: "UTM_ZONE"}
		}
		return fmt.Sprintf("EPSG:326%02d", int(zone)), nil
	case "PS":
		return "EPSG:3031", nil
	}
	return "", common.ErrIncompleteMetadata{SceneID: r.SceneID, Key: "MAP_PROJECTION"}
}

// Footprint returns the geographic polygon of the product
func (r *Record) Footprint() (geom.Polygon, error) {
	c, err := r.GeographicCorners()
	if err != nil {
		return nil, err
	}
	return geometry.Footprint(c[0], c[1], c[2], c[3]), nil
}

// WriteTable writes the metadata as a text table: one section per group
func (r *Record) WriteTable(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, g := range r.Groups {
		fmt.Fprintf(bw, "### %s\n", g.Name)
		fmt.Fprintf(bw, "%-40s %-60s\n", "Key", "Value")
		fmt.Fprintf(bw, "%s\n", strings.Repeat("-", 100))
		for _, e := range g.Entries {
			fmt.Fprintf(bw, "%-40s %-60s\n", e.Key, e.Value)
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// TableFileName returns the name of the metadata table of the scene
func TableFileName(sceneID string) string {
	return sceneID + "_metadata.txt"
}

// SaveTable writes the metadata table atomically in dir
func (r *Record) SaveTable(dir string) (string, error) {
	dst := filepath.Join(dir, TableFileName(r.SceneID))
	err := service.WriteFileAtomic(dst, func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if err := r.WriteTable(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return "", fmt.Errorf("SaveTable.%w", err)
	}
	return dst, nil
}

// SaveFootprint writes the footprint of the scene as a GeoJSON feature in dir
func (r *Record) SaveFootprint(dir string) (string, error) {
	fp, err := r.Footprint()
	if err != nil {
		return "", fmt.Errorf("SaveFootprint.%w", err)
	}
	props := map[string]interface{}{"scene_id": r.SceneID}
	if s, err := r.Sensor(); err == nil {
		props["sensor"] = s.String()
	}
	if t, err := r.AcquisitionTime(); err == nil {
		props["acquisition_time"] = t.Format(time.RFC3339)
	}
	b, err := geometry.MarshalFeature(fp, props)
	if err != nil {
		return "", fmt.Errorf("SaveFootprint.%w", err)
	}
	dst := filepath.Join(dir, "footprint.geojson")
	if err := service.WriteBytesAtomic(dst, b); err != nil {
		return "", fmt.Errorf("SaveFootprint.%w", err)
	}
	return dst, nil
}

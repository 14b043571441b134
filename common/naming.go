package common

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SensorGeneration defines the Landsat mission that acquired a scene
type SensorGeneration int

const (
	UnknownSensor SensorGeneration = 0
	Landsat7      SensorGeneration = 7 // LE07_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX (ETM+)
	Landsat8      SensorGeneration = 8 // LC08_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX (OLI/TIRS)
	Landsat9      SensorGeneration = 9 // LC09_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CX_TX (OLI-2/TIRS-2)
)

// SensorGenerations lists the supported generations in ascending order
var SensorGenerations = []SensorGeneration{Landsat7, Landsat8, Landsat9}

var landsatSceneRegexp = regexp.MustCompile(`^L[EOTC]0([789])_`)

func (s SensorGeneration) String() string {
	switch s {
	case Landsat7, Landsat8, Landsat9:
		return fmt.Sprintf("LANDSAT_%d", int(s))
	}
	return fmt.Sprintf("UNKNOWN_SENSOR(%d)", int(s))
}

// Dir returns the name of the folder gathering the scenes of the sensor (e.g. LANDSAT8)
func (s SensorGeneration) Dir() string {
	return strings.ReplaceAll(s.String(), "_", "")
}

// Supported returns true if the generation is one of SensorGenerations
func (s SensorGeneration) Supported() bool {
	for _, g := range SensorGenerations {
		if g == s {
			return true
		}
	}
	return false
}

// GetSensorFromString returns the generation from the user input or the SPACECRAFT_ID metadata
// (e.g. "LANDSAT_8", "landsat8", "L8", "8")
func GetSensorFromString(input string) SensorGeneration {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.TrimPrefix(s, "LANDSAT")
	s = strings.TrimPrefix(s, "L")
	s = strings.TrimLeft(s, "_- ")
	if n, err := strconv.Atoi(s); err == nil {
		return SensorGeneration(n)
	}
	return GetSensorFromSceneID(input)
}

// GetSensorFromSceneID returns the generation from a scene identifier or a file name of the scene
func GetSensorFromSceneID(sceneName string) SensorGeneration {
	m := landsatSceneRegexp.FindStringSubmatch(strings.ToUpper(sceneName))
	if m == nil {
		return UnknownSensor
	}
	n, _ := strconv.Atoi(m[1])
	return SensorGeneration(n)
}

// SceneIDFromFileName returns the identifier of the scene the file belongs to:
// the seven first underscore-separated tokens of the file name.
func SceneIDFromFileName(fileName string) (string, bool) {
	base := filepath.Base(fileName)
	if GetSensorFromSceneID(base) == UnknownSensor {
		return "", false
	}
	tokens := strings.Split(base, "_")
	if len(tokens) < 7 {
		return "", false
	}
	tokens[6] = strings.SplitN(tokens[6], ".", 2)[0]
	return strings.Join(tokens[:7], "_"), true
}

// GetDateFromSceneID returns the acquisition date encoded in the scene identifier
func GetDateFromSceneID(sceneName string) (time.Time, error) {
	info, err := Info(sceneName)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse("20060102", info["DATE"])
}

// Info parses a Landsat Collection-2 product identifier
// LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CC_TX
func Info(sceneName string) (map[string]string, error) {
	sensor := GetSensorFromSceneID(sceneName)
	if sensor == UnknownSensor {
		return nil, fmt.Errorf("Info: sensor not supported: %s", sceneName)
	}
	if len(sceneName) < len("LXSS_LLLL_PPPRRR_YYYYMMDD_yyyymmdd_CC_TX") {
		return nil, fmt.Errorf("invalid Landsat file name: %s", sceneName)
	}
	sceneName = strings.ToUpper(sceneName)

	var collection string
	switch sceneName[1:2] {
	case "E":
		collection = "etm"
	case "O":
		collection = "oli"
	case "T":
		collection = "tirs"
	default:
		collection = "oli-tirs"
	}
	level := "level-1"
	if strings.HasPrefix(sceneName[5:9], "L2") {
		level = "level-2"
	}

	return map[string]string{
		"SCENE":               sceneName[0:40],
		"MISSION_ID":          sceneName[0:1] + sceneName[2:4],
		"SENSOR":              sceneName[1:2],
		"SATELLITE":           sceneName[2:4],
		"PROCESSING_LEVEL":    sceneName[5:9],
		"LEVEL":               level,
		"PATH":                sceneName[10:13],
		"ROW":                 sceneName[13:16],
		"DATE":                sceneName[17:25],
		"YEAR":                sceneName[17:21],
		"MONTH":               sceneName[21:23],
		"DAY":                 sceneName[23:25],
		"PROCESSING_DATE":     sceneName[26:34],
		"COLLECTION_NUMBER":   sceneName[35:37],
		"COLLECTION_CATEGORY": sceneName[38:40],
		"COLLECTION":          collection,
		"GENERATION":          strconv.Itoa(int(sensor)),
	}, nil
}

// FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
func FormatBrackets(str string, info map[string]string) string {
	for k, v := range info {
		str = strings.ReplaceAll(str, "{"+k+"}", v)
	}
	return str
}

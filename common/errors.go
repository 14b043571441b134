package common

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the origin of a scene failure in a batch report
type ErrorKind string

const (
	KindBandNotFound       ErrorKind = "BandNotFoundError"
	KindUnsupportedSensor  ErrorKind = "UnsupportedSensorError"
	KindGridMismatch       ErrorKind = "GridMismatchError"
	KindIncompleteMetadata ErrorKind = "IncompleteMetadataError"
	KindUnknownIndex       ErrorKind = "UnknownIndexError"
	KindInvalidCRS         ErrorKind = "InvalidCRSError"
	KindSceneDiscovery     ErrorKind = "SceneDiscoveryError"
	KindTimeout            ErrorKind = "TimeoutError"
	KindInternal           ErrorKind = "InternalError"
)

type kindIf interface{ Kind() ErrorKind }

// KindOf inspects the error trace and returns the kind of the first typed error found
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kindIf
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// ErrBandNotFound is returned when a logical band cannot be resolved to a file of the scene
type ErrBandNotFound struct {
	SceneID string
	Band    string
	Sensor  SensorGeneration
	File    string // Expected file, empty if the sensor does not have this band
}

func (e ErrBandNotFound) Error() string {
	if e.File == "" {
		return fmt.Sprintf("Band %s not available for %s (scene %s)", e.Band, e.Sensor, e.SceneID)
	}
	return fmt.Sprintf("Band %s not found for scene %s: %s", e.Band, e.SceneID, e.File)
}
func (e ErrBandNotFound) Kind() ErrorKind { return KindBandNotFound }

// ErrUnsupportedSensor is returned when no band table exists for the sensor generation
type ErrUnsupportedSensor struct {
	Sensor SensorGeneration
}

func (e ErrUnsupportedSensor) Error() string {
	return fmt.Sprintf("Unsupported sensor generation: %s", e.Sensor)
}
func (e ErrUnsupportedSensor) Kind() ErrorKind { return KindUnsupportedSensor }

// ErrGridMismatch is returned when rasters used together do not share the same grid
type ErrGridMismatch struct {
	Reason string
}

func (e ErrGridMismatch) Error() string {
	return fmt.Sprintf("Grid mismatch: %s", e.Reason)
}
func (e ErrGridMismatch) Kind() ErrorKind { return KindGridMismatch }

// ErrIncompleteMetadata is returned when a required metadata key is missing or invalid
type ErrIncompleteMetadata struct {
	SceneID string
	Key     string
}

func (e ErrIncompleteMetadata) Error() string {
	return fmt.Sprintf("Incomplete metadata for scene %s: missing or invalid %s", e.SceneID, e.Key)
}
func (e ErrIncompleteMetadata) Kind() ErrorKind { return KindIncompleteMetadata }

// ErrUnknownIndex is returned when an index is not registered
type ErrUnknownIndex struct {
	Name string
}

func (e ErrUnknownIndex) Error() string {
	return fmt.Sprintf("Unknown index: %s", e.Name)
}
func (e ErrUnknownIndex) Kind() ErrorKind { return KindUnknownIndex }

// ErrInvalidCRS is returned when a coordinate reference system is empty or cannot be parsed
type ErrInvalidCRS struct {
	CRS string
	Err error
}

func (e ErrInvalidCRS) Error() string {
	if e.CRS == "" {
		return "Invalid CRS: target CRS is missing"
	}
	if e.Err != nil {
		return fmt.Sprintf("Invalid CRS %q: %v", e.CRS, e.Err)
	}
	return fmt.Sprintf("Invalid CRS %q", e.CRS)
}
func (e ErrInvalidCRS) Unwrap() error   { return e.Err }
func (e ErrInvalidCRS) Kind() ErrorKind { return KindInvalidCRS }

// ErrSceneDiscovery is returned when scenes cannot be discovered or organized
type ErrSceneDiscovery struct {
	Path string
	Err  error
}

func (e ErrSceneDiscovery) Error() string {
	return fmt.Sprintf("Scene discovery failed [%s]: %v", e.Path, e.Err)
}
func (e ErrSceneDiscovery) Unwrap() error   { return e.Err }
func (e ErrSceneDiscovery) Kind() ErrorKind { return KindSceneDiscovery }

// ErrTimeout is returned when the processing of a scene exceeds its time budget
type ErrTimeout struct {
	SceneID string
	Stage   string
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("Scene %s timed out during %s", e.SceneID, e.Stage)
}
func (e ErrTimeout) Kind() ErrorKind { return KindTimeout }

// IsConfigurationError returns true if the error comes from an invalid batch configuration
func IsConfigurationError(err error) bool {
	switch KindOf(err) {
	case KindUnknownIndex, KindInvalidCRS:
		return true
	}
	return false
}

package common

import (
	"time"
)

// Scene is a set of band files acquired by one Landsat acquisition
type Scene struct {
	ID     string           `json:"id"`
	Sensor SensorGeneration `json:"sensor"`
	Dir    string           `json:"dir"`
	Files  []string         `json:"files,omitempty"` // File names relative to Dir
}

// BatchRequest is the payload of a processing job
type BatchRequest struct {
	JobID           string   `json:"job_id"`
	InputURI        string   `json:"input_uri"`          // Local folder, archive or storage uri of the raw scenes
	Provider        string   `json:"provider,omitempty"` // "", "local", "aws" or "url": provider used to fetch SceneIDs before processing
	SceneIDs        []string `json:"scene_ids,omitempty"`
	OutputFolder    string   `json:"output_folder,omitempty"`
	Organize        bool     `json:"organize,omitempty"`
	ExtractMetadata bool     `json:"extract_metadata,omitempty"`
	ComputeIndices  bool     `json:"compute_indices,omitempty"` // All the registered indices if Indices is empty
	Indices         []string `json:"indices,omitempty"`         // Index names or ["all"]
	Reproject       bool     `json:"reproject,omitempty"`
	TargetCRS       string   `json:"target_crs,omitempty"`
	Resolution      float64  `json:"resolution,omitempty"`
	Resampling      string   `json:"resampling,omitempty"`
	Workers         int      `json:"workers,omitempty"`
	SceneTimeout    string   `json:"scene_timeout,omitempty"` // Go duration, e.g. "10m"
}

// SceneEvent summarizes the outcome of one scene
type SceneEvent struct {
	Status    Status    `json:"status"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Outputs   []string  `json:"outputs,omitempty"`
}

// BatchEvent is published when a processing job ends
type BatchEvent struct {
	JobID     string                `json:"job_id"`
	Status    Status                `json:"status"`
	Message   string                `json:"message,omitempty"`
	OutputURI string                `json:"output_uri,omitempty"`
	Scenes    map[string]SceneEvent `json:"scenes,omitempty"`
	Date      time.Time             `json:"date"`
}

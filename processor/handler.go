package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/airbusgeo/landsat-processor/band"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/index"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"
	"github.com/gorilla/mux"
)

// Runner runs a batch request
type Runner interface {
	Run(ctx context.Context, req common.BatchRequest) (common.BatchEvent, error)
}

// Handler serves the HTTP API of the processor
type Handler struct {
	Registry *index.Registry
	Runner   Runner
}

// NewHandler returns the router of the API
func (h *Handler) NewHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/indices", h.ListIndicesHandler).Methods("GET")
	r.HandleFunc("/sensors", h.ListSensorsHandler).Methods("GET")
	r.HandleFunc("/batch", h.RunBatchHandler).Methods("POST")
	return r
}

// IndexInfo describes an index
type IndexInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Bands       []string `json:"bands"`
	Formula     string   `json:"formula"`
	Min         float64  `json:"min"`
	Max         float64  `json:"max"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ListIndicesHandler lists the registered indices
func (h *Handler) ListIndicesHandler(w http.ResponseWriter, req *http.Request) {
	var infos []IndexInfo
	for _, d := range h.Registry.Definitions() {
		info := IndexInfo{Name: d.Name, Description: d.Description, Formula: d.Formula(), Min: d.Min, Max: d.Max}
		for _, b := range d.Bands {
			info.Bands = append(info.Bands, b.String())
		}
		infos = append(infos, info)
	}
	writeJSON(w, infos)
}

// ListSensorsHandler lists the band tables of the supported sensor generations
func (h *Handler) ListSensorsHandler(w http.ResponseWriter, req *http.Request) {
	sensors := map[string]map[string]band.Code{}
	for _, s := range common.SensorGenerations {
		bands, err := band.Supported(s)
		if err != nil {
			continue
		}
		table := map[string]band.Code{}
		for _, b := range bands {
			table[b.String()], _ = band.CodeOf(s, b)
		}
		sensors[s.String()] = table
	}
	writeJSON(w, sensors)
}

// RunBatchHandler runs a batch request and returns the event of the job
func (h *Handler) RunBatchHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	br := common.BatchRequest{}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&br); err != nil {
		w.WriteHeader(400)
		fmt.Fprintf(w, "%v", err)
		return
	}
	event, err := h.Runner.Run(ctx, br)
	if err != nil {
		log.Logger(ctx).Sugar().Warnf("batch: %v", err)
		if common.IsConfigurationError(err) || service.Fatal(err) {
			w.WriteHeader(400)
		} else {
			w.WriteHeader(500)
		}
		fmt.Fprintf(w, "%v", err)
		return
	}
	writeJSON(w, event)
}

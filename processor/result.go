package processor

import (
	"sort"
	"sync"
	"time"

	"github.com/airbusgeo/landsat-processor/common"
)

// SceneResult is the outcome of the processing of one scene
type SceneResult struct {
	SceneID   string           `json:"scene_id"`
	Status    common.Status    `json:"status"`
	Outputs   []string         `json:"outputs,omitempty"`
	ErrorKind common.ErrorKind `json:"error_kind,omitempty"`
	Message   string           `json:"message,omitempty"`
	Duration  time.Duration    `json:"-"`
	Elapsed   string           `json:"elapsed,omitempty"`
}

func succeeded(sceneID string, outputs []string, d time.Duration) SceneResult {
	return SceneResult{SceneID: sceneID, Status: common.StatusDONE, Outputs: outputs, Duration: d, Elapsed: d.Round(time.Millisecond).String()}
}

func failed(sceneID string, err error, d time.Duration) SceneResult {
	return SceneResult{SceneID: sceneID, Status: common.StatusFAILED, ErrorKind: common.KindOf(err), Message: err.Error(), Duration: d, Elapsed: d.Round(time.Millisecond).String()}
}

// BatchResult gathers the results of the scenes of a batch. It is safe for concurrent use.
type BatchResult struct {
	OutputFolder string
	Started      time.Time

	mu     sync.Mutex
	scenes map[string]SceneResult
}

func newBatchResult(outputFolder string, started time.Time) *BatchResult {
	return &BatchResult{OutputFolder: outputFolder, Started: started, scenes: map[string]SceneResult{}}
}

// Add records the result of a scene
func (b *BatchResult) Add(r SceneResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scenes[r.SceneID] = r
}

// Get returns the result of the scene
func (b *BatchResult) Get(sceneID string) (SceneResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.scenes[sceneID]
	return r, ok
}

// Scenes returns the results sorted by scene identifier
func (b *BatchResult) Scenes() []SceneResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := make([]SceneResult, 0, len(b.scenes))
	for _, r := range b.scenes {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SceneID < res[j].SceneID })
	return res
}

// Failed returns the identifiers of the failed scenes, sorted
func (b *BatchResult) Failed() []string {
	var ids []string
	for _, r := range b.Scenes() {
		if r.Status == common.StatusFAILED {
			ids = append(ids, r.SceneID)
		}
	}
	return ids
}

// Status returns DONE if all the scenes succeeded, FAILED otherwise
func (b *BatchResult) Status() common.Status {
	if len(b.Failed()) > 0 {
		return common.StatusFAILED
	}
	return common.StatusDONE
}

// Report is the JSON summary of a batch
type Report struct {
	OutputFolder string        `json:"output_folder"`
	Started      time.Time     `json:"started"`
	Ended        time.Time     `json:"ended"`
	Status       common.Status `json:"status"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	Scenes       []SceneResult `json:"scenes"`
}

// Report summarizes the batch
func (b *BatchResult) Report(ended time.Time) Report {
	r := Report{OutputFolder: b.OutputFolder, Started: b.Started, Ended: ended, Status: b.Status(), Scenes: b.Scenes()}
	for _, s := range r.Scenes {
		if s.Status == common.StatusDONE {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
	return r
}

// Events converts the results into job events
func (b *BatchResult) Events() map[string]common.SceneEvent {
	events := map[string]common.SceneEvent{}
	for _, r := range b.Scenes() {
		events[r.SceneID] = common.SceneEvent{Status: r.Status, ErrorKind: r.ErrorKind, Message: r.Message, Outputs: r.Outputs}
	}
	return events
}

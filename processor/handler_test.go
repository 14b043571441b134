package processor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/airbusgeo/landsat-processor/band"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/index"
	"github.com/airbusgeo/landsat-processor/processor"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type runnerFunc func(ctx context.Context, req common.BatchRequest) (common.BatchEvent, error)

func (f runnerFunc) Run(ctx context.Context, req common.BatchRequest) (common.BatchEvent, error) {
	return f(ctx, req)
}

var _ = Describe("Handler", func() {
	var (
		srv      *httptest.Server
		received common.BatchRequest
		runErr   error
	)

	BeforeEach(func() {
		runErr = nil
		h := processor.Handler{
			Registry: index.Default,
			Runner: runnerFunc(func(ctx context.Context, req common.BatchRequest) (common.BatchEvent, error) {
				received = req
				if runErr != nil {
					return common.BatchEvent{}, runErr
				}
				return common.BatchEvent{JobID: req.JobID, Status: common.StatusDONE}, nil
			}),
		}
		srv = httptest.NewServer(h.NewHandler())
	})

	AfterEach(func() {
		srv.Close()
	})

	post := func(body string) *http.Response {
		resp, err := http.Post(srv.URL+"/batch", "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("should list the indices", func() {
		resp, err := http.Get(srv.URL + "/indices")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var infos []processor.IndexInfo
		Expect(json.NewDecoder(resp.Body).Decode(&infos)).To(Succeed())
		Expect(infos).To(HaveLen(len(index.Default.List())))
		Expect(infos[0].Name).To(Equal("NDVI"))
		Expect(infos[0].Bands).To(Equal([]string{"NIR", "Red"}))
		Expect(infos[0].Formula).To(Equal("(NIR - Red) / (NIR + Red)"))
	})

	It("should list the band codes of the sensors", func() {
		resp, err := http.Get(srv.URL + "/sensors")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		sensors := map[string]map[string]band.Code{}
		Expect(json.NewDecoder(resp.Body).Decode(&sensors)).To(Succeed())
		Expect(sensors).To(HaveKey("LANDSAT_8"))
		Expect(sensors["LANDSAT_8"]["Red"]).To(Equal(band.Code("SR_B4")))
		Expect(sensors["LANDSAT_7"]["Red"]).To(Equal(band.Code("SR_B3")))
	})

	It("should run a batch", func() {
		resp := post(`{"job_id":"job1","input_uri":"/data","indices":["NDVI"],"target_crs":"EPSG:32633"}`)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(200))
		Expect(received.TargetCRS).To(Equal("EPSG:32633"))
		event := common.BatchEvent{}
		Expect(json.NewDecoder(resp.Body).Decode(&event)).To(Succeed())
		Expect(event.JobID).To(Equal("job1"))
		Expect(event.Status).To(Equal(common.StatusDONE))
	})

	It("should reject unknown fields", func() {
		resp := post(`{"job_id":"job1","unknown":true}`)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(400))
	})

	It("should reject an invalid configuration", func() {
		runErr = fmt.Errorf("Run.%w", common.ErrUnknownIndex{Name: "FOO"})
		resp := post(`{"job_id":"job1","indices":["FOO"]}`)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(400))
	})

	It("should report internal errors", func() {
		runErr = fmt.Errorf("disk full")
		resp := post(`{"job_id":"job1","indices":["NDVI"]}`)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(500))
	})
})

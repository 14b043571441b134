package processor_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airbusgeo/landsat-processor/band"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/metadata"
	"github.com/airbusgeo/landsat-processor/processor"
	"github.com/airbusgeo/landsat-processor/raster"
	"github.com/airbusgeo/landsat-processor/scene"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

const mtlTemplate = `GROUP = LANDSAT_METADATA_FILE
  GROUP = PRODUCT_CONTENTS
    LANDSAT_PRODUCT_ID = "%s"
    PROCESSING_LEVEL = "L2SP"
  END_GROUP = PRODUCT_CONTENTS
  GROUP = IMAGE_ATTRIBUTES
    SPACECRAFT_ID = "LANDSAT_8"
    DATE_ACQUIRED = 2024-07-16
    SCENE_CENTER_TIME = "09:42:31.1234560Z"
  END_GROUP = IMAGE_ATTRIBUTES
  GROUP = PROJECTION_ATTRIBUTES
    MAP_PROJECTION = "UTM"
    UTM_ZONE = 33
    CORNER_UL_LAT_PRODUCT = 52.18720
    CORNER_UL_LON_PRODUCT = 12.07541
    CORNER_UR_LAT_PRODUCT = 52.21264
    CORNER_UR_LON_PRODUCT = 15.53456
    CORNER_LL_LAT_PRODUCT = 50.06453
    CORNER_LL_LON_PRODUCT = 12.14935
    CORNER_LR_LAT_PRODUCT = 50.08808
    CORNER_LR_LON_PRODUCT = 15.43964
  END_GROUP = PROJECTION_ATTRIBUTES
  GROUP = LEVEL2_SURFACE_REFLECTANCE_PARAMETERS
    REFLECTANCE_MULT_BAND_4 = 2.75E-05
    REFLECTANCE_MULT_BAND_5 = 2.75E-05
    REFLECTANCE_ADD_BAND_4 = -0.200000
    REFLECTANCE_ADD_BAND_5 = -0.200000
  END_GROUP = LEVEL2_SURFACE_REFLECTANCE_PARAMETERS
END_GROUP = LANDSAT_METADATA_FILE
END
`

var sceneIDs = []string{
	"LC08_L2SP_190024_20240716_20240723_02_T1",
	"LC08_L2SP_190025_20240716_20240723_02_T1",
	"LC08_L2SP_190026_20240716_20240723_02_T1",
}

// writeScene writes a 4x4 Landsat 8 scene with its MTL file in root/<id>/
func writeScene(root, sceneID, crs string, gt raster.GeoTransform, codes ...band.Code) {
	dir := filepath.Join(root, sceneID)
	Expect(os.MkdirAll(dir, 0755)).To(Succeed())
	for _, code := range codes {
		g := raster.NewGrid(4, 4, 0, gt, crs)
		for i := range g.Data {
			switch code {
			case "SR_B4":
				g.Data[i] = 8000 + float64(i)*10
			default:
				g.Data[i] = 20000 + float64(i)*100
			}
		}
		g.Data[0] = 0
		Expect(raster.Write(g, filepath.Join(dir, band.FileName(sceneID, code)))).To(Succeed())
	}
	mtl := fmt.Sprintf(mtlTemplate, sceneID)
	Expect(os.WriteFile(filepath.Join(dir, sceneID+"_MTL.txt"), []byte(mtl), 0644)).To(Succeed())
}

// slowMetadata delays the metadata of the scenes
type slowMetadata struct {
	delay time.Duration
}

func (m slowMetadata) Metadata(ctx context.Context, s common.Scene) (*metadata.Record, error) {
	time.Sleep(m.delay)
	return metadata.MTLProvider{}.Metadata(ctx, s)
}

var _ = Describe("Processor", func() {
	var (
		ctx       = context.Background()
		gt        = raster.GeoTransform{399960, 30, 0, 5800020, 0, -30}
		inputDir  string
		outputDir string
		scenes    []common.Scene
		p         *processor.Processor
		res       *processor.BatchResult
		err       error
	)

	BeforeEach(func() {
		inputDir, err = os.MkdirTemp("", "input")
		Expect(err).NotTo(HaveOccurred())
		outputDir, err = os.MkdirTemp("", "output")
		Expect(err).NotTo(HaveOccurred())
		p = processor.New()
		p.Now = func() time.Time { return time.Date(2024, 7, 16, 9, 42, 31, 0, time.UTC) }
	})

	AfterEach(func() {
		os.RemoveAll(inputDir)
		os.RemoveAll(outputDir)
	})

	discover := func() {
		scenes, err = scene.Discover(ctx, inputDir)
		Expect(err).NotTo(HaveOccurred())
	}

	Context("when a scene of the batch lacks a band", func() {
		var done []string
		BeforeEach(func() {
			writeScene(inputDir, sceneIDs[0], "EPSG:32633", gt, "SR_B4", "SR_B5")
			writeScene(inputDir, sceneIDs[1], "EPSG:32633", gt, "SR_B4")
			writeScene(inputDir, sceneIDs[2], "EPSG:32633", gt, "SR_B4", "SR_B5")
			discover()
			done = nil
			p.OnSceneDone = func(r processor.SceneResult) { done = append(done, r.SceneID) }
			res, err = p.RunBatch(ctx, scenes, processor.Operations{
				OutputFolder:    outputDir,
				ExtractMetadata: true,
				Indices:         []string{"ndvi"},
				Workers:         1,
			})
		})

		It("should process the other scenes", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status()).To(Equal(common.StatusFAILED))
			Expect(res.Failed()).To(Equal([]string{sceneIDs[1]}))
			Expect(done).To(Equal(sceneIDs))
			for _, id := range []string{sceneIDs[0], sceneIDs[2]} {
				r, ok := res.Get(id)
				Expect(ok).To(BeTrue())
				Expect(r.Status).To(Equal(common.StatusDONE))
				Expect(filepath.Join(outputDir, id, "NDVI.tif")).To(BeARegularFile())
				Expect(filepath.Join(outputDir, id, metadata.TableFileName(id))).To(BeARegularFile())
			}
		})

		It("should record the kind of the failure", func() {
			r, ok := res.Get(sceneIDs[1])
			Expect(ok).To(BeTrue())
			Expect(r.Status).To(Equal(common.StatusFAILED))
			Expect(r.ErrorKind).To(Equal(common.KindBandNotFound))
			Expect(r.Outputs).To(BeEmpty())
		})

		It("should not leave partial outputs of the failed scene", func() {
			Expect(filepath.Join(outputDir, sceneIDs[1])).NotTo(BeADirectory())
			Expect(filepath.Join(outputDir, ".work")).NotTo(BeADirectory())
		})

		It("should write the report", func() {
			b, err := os.ReadFile(filepath.Join(outputDir, processor.ReportFileName))
			Expect(err).NotTo(HaveOccurred())
			report := processor.Report{}
			Expect(json.Unmarshal(b, &report)).To(Succeed())
			Expect(report.Succeeded).To(Equal(2))
			Expect(report.Failed).To(Equal(1))
			Expect(report.Scenes).To(HaveLen(3))
			Expect(report.Status).To(Equal(common.StatusFAILED))
		})

		It("should compute NDVI in [-1, 1]", func() {
			g, err := raster.Read(filepath.Join(outputDir, sceneIDs[0], "NDVI.tif"), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.Valid(0)).To(BeFalse())
			for i := 1; i < len(g.Data); i++ {
				Expect(g.Valid(i)).To(BeTrue())
				Expect(g.Data[i]).To(BeNumerically(">=", -1))
				Expect(g.Data[i]).To(BeNumerically("<=", 1))
			}
		})
	})

	Context("when computing NDVI in EPSG:32633 from scenes in EPSG:32632", func() {
		BeforeEach(func() {
			gt32 := raster.GeoTransform{699960, 30, 0, 5800020, 0, -30}
			writeScene(inputDir, sceneIDs[0], "EPSG:32632", gt32, "SR_B4", "SR_B5")
			writeScene(inputDir, sceneIDs[2], "EPSG:32632", gt32, "SR_B4", "SR_B5")
			discover()
			res, err = p.RunBatch(ctx, scenes, processor.Operations{
				OutputFolder: outputDir,
				Indices:      []string{"NDVI"},
				TargetCRS:    "EPSG:32633",
				Workers:      2,
			})
		})

		It("should succeed", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status()).To(Equal(common.StatusDONE))
			Expect(res.Scenes()).To(HaveLen(2))
		})

		It("should write the index and the bands in the target CRS", func() {
			for _, id := range []string{sceneIDs[0], sceneIDs[2]} {
				files := []string{
					filepath.Join(outputDir, id, "NDVI.tif"),
					filepath.Join(outputDir, id, processor.ReprojectedDir, "Red.tif"),
					filepath.Join(outputDir, id, processor.ReprojectedDir, "NIR.tif"),
				}
				for _, f := range files {
					g, err := raster.Read(f, 0)
					Expect(err).NotTo(HaveOccurred())
					Expect(g.CRS).To(Equal("EPSG:32633"))
				}
				g, err := raster.Read(files[0], 0)
				Expect(err).NotTo(HaveOccurred())
				valid := 0
				for i, v := range g.Data {
					if g.Valid(i) {
						valid++
						Expect(v).To(BeNumerically(">=", -1))
						Expect(v).To(BeNumerically("<=", 1))
					}
				}
				Expect(valid).To(BeNumerically(">", 0))
			}
		})
	})

	Context("when the bands have no spatial reference", func() {
		BeforeEach(func() {
			writeScene(inputDir, sceneIDs[0], "", gt, "SR_B4", "SR_B5")
			discover()
			res, err = p.RunBatch(ctx, scenes, processor.Operations{
				OutputFolder: outputDir,
				Indices:      []string{"NDVI"},
				TargetCRS:    "EPSG:4326",
			})
		})

		It("should reproject from the projection of the metadata", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status()).To(Equal(common.StatusDONE))
			for _, f := range []string{"NDVI.tif", filepath.Join(processor.ReprojectedDir, "Red.tif")} {
				g, err := raster.Read(filepath.Join(outputDir, sceneIDs[0], f), 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(g.CRS).To(Equal("EPSG:4326"))
				// 399960, 5800020 in UTM 33N
				Expect(g.Transform[0]).To(BeNumerically("~", 13.5, 0.5))
				Expect(g.Transform[3]).To(BeNumerically("~", 52.3, 0.5))
			}
		})
	})

	Context("when the configuration is invalid", func() {
		BeforeEach(func() {
			writeScene(inputDir, sceneIDs[0], "EPSG:32633", gt, "SR_B4", "SR_B5")
			discover()
			os.RemoveAll(outputDir)
		})

		It("should reject an unknown index before any scene", func() {
			called := false
			p.OnSceneDone = func(processor.SceneResult) { called = true }
			res, err = p.RunBatch(ctx, scenes, processor.Operations{OutputFolder: outputDir, Indices: []string{"NDVI", "FOO"}})
			Expect(err).To(HaveOccurred())
			Expect(common.KindOf(err)).To(Equal(common.KindUnknownIndex))
			Expect(res).To(BeNil())
			Expect(called).To(BeFalse())
			Expect(outputDir).NotTo(BeADirectory())
		})

		It("should reject an invalid CRS", func() {
			res, err = p.RunBatch(ctx, scenes, processor.Operations{OutputFolder: outputDir, TargetCRS: "EPSG:999999"})
			Expect(common.KindOf(err)).To(Equal(common.KindInvalidCRS))
			Expect(res).To(BeNil())
		})

		It("should require a CRS to reproject", func() {
			_, err = p.RunBatch(ctx, scenes, processor.Operations{OutputFolder: outputDir, Reproject: true})
			Expect(common.KindOf(err)).To(Equal(common.KindInvalidCRS))
		})

		It("should reject an unknown resampling method", func() {
			_, err = p.RunBatch(ctx, scenes, processor.Operations{OutputFolder: outputDir, TargetCRS: "EPSG:4326", Resampling: "cubic"})
			Expect(err).To(HaveOccurred())
		})

		It("should require an operation", func() {
			_, err = p.RunBatch(ctx, scenes, processor.Operations{OutputFolder: outputDir})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when a scene is not found or too slow", func() {
		BeforeEach(func() {
			writeScene(inputDir, sceneIDs[0], "EPSG:32633", gt, "SR_B4", "SR_B5")
			discover()
		})

		It("should report the missing scenes", func() {
			res, err = p.RunBatch(ctx, scenes, processor.Operations{
				OutputFolder: outputDir,
				SceneIDs:     []string{sceneIDs[0], sceneIDs[1]},
				Organize:     true,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Failed()).To(Equal([]string{sceneIDs[1]}))
			r, _ := res.Get(sceneIDs[1])
			Expect(r.ErrorKind).To(Equal(common.KindSceneDiscovery))
			Expect(filepath.Join(outputDir, "LANDSAT8", sceneIDs[0], band.FileName(sceneIDs[0], "SR_B4"))).To(BeARegularFile())
		})

		It("should stop a scene after its timeout", func() {
			p.Metadata = slowMetadata{delay: 100 * time.Millisecond}
			res, err = p.RunBatch(ctx, scenes, processor.Operations{
				OutputFolder: outputDir,
				Indices:      []string{"NDVI"},
				SceneTimeout: 10 * time.Millisecond,
			})
			Expect(err).NotTo(HaveOccurred())
			r, _ := res.Get(sceneIDs[0])
			Expect(r.ErrorKind).To(Equal(common.KindTimeout))
			Expect(filepath.Join(outputDir, sceneIDs[0])).NotTo(BeADirectory())
		})
	})

	It("should name the default output folder after the date", func() {
		Expect(processor.DefaultOutputFolder(time.Date(2024, 7, 16, 9, 42, 31, 0, time.UTC))).To(Equal("output_20240716_094231"))
	})
})

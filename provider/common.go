package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airbusgeo/landsat-processor/scene"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"
	"github.com/cavaliercoder/grab"
)

func fmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				progress += progressPeriod
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}

// download a file with display every 5%
func download(ctx context.Context, req *grab.Request, displayPrefix string) error {
	resp := grab.NewClient().Do(req)

	displayProgress(ctx, displayPrefix, resp, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("download[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 404:
			return ErrProductNotFound{Product: req.URL().String()}
		case 408, 429, 500, 501, 502, 503, 504:
			return service.MakeTemporary(err)
		default:
			return err
		}
	}
	return nil
}

// downloadArchive downloads the archive of the scene from url and extracts it into localDir
func downloadArchive(ctx context.Context, url, localDir, sceneID, provider string) error {
	localArchive := sceneFilePath(localDir, sceneID, service.GetExt(url))
	req, err := grab.NewRequest(localArchive, url)
	if err != nil {
		return fmt.Errorf("downloadArchive.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	if err := download(ctx, req, provider+":"+sceneID); err != nil {
		return fmt.Errorf("downloadArchive.%w", err)
	}
	defer os.Remove(localArchive)
	return unarchive(ctx, localArchive, localDir)
}

// unarchive extracts the scene archive into localDir. All errors are temporary.
func unarchive(ctx context.Context, archive, localDir string) error {
	if _, err := scene.Extract(ctx, archive, localDir); err != nil {
		return service.MakeTemporary(fmt.Errorf("unarchive.%w", err))
	}
	return nil
}

// sceneFilePath returns the path of the scene, given the directory and the sceneid
func sceneFilePath(dir, sceneID string, ext service.Extension) string {
	return filepath.Join(dir, "."+sceneID+"."+string(ext))
}

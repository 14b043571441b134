package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/airbusgeo/geocube/interface/storage/uri"
	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service"
)

// URL implements Provider for direct download links built from a template
type URL struct {
	template string
}

// Name implements Provider
func (ip *URL) Name() string {
	return "URL"
}

// NewURL creates a new Provider for direct download links.
// template is formatted with the keys of common.Info (e.g. https://host/{YEAR}/{SCENE}.tar)
func NewURL(template string) *URL {
	return &URL{template: template}
}

// Link returns the download link of the scene
func (ip *URL) Link(sceneID string) (string, error) {
	info, err := common.Info(sceneID)
	if err != nil {
		return "", fmt.Errorf("URL.%w", err)
	}
	return common.FormatBrackets(ip.template, info), nil
}

// Download implements Provider
func (ip *URL) Download(ctx context.Context, sceneID, localDir string) error {
	downloadLink, err := ip.Link(sceneID)
	if err != nil {
		return err
	}
	if !service.IsArchive(downloadLink) {
		return fmt.Errorf("URL: %s is not a scene archive", downloadLink)
	}

	if l := strings.ToLower(downloadLink); strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
		if err := downloadArchive(ctx, downloadLink, localDir, sceneID, ip.Name()); err != nil {
			return fmt.Errorf("URL.%w", err)
		}
		return nil
	}

	u, err := uri.ParseUri(downloadLink)
	if err != nil {
		return fmt.Errorf("URL: %w", err)
	}
	switch u.Protocol() {
	case "file", "":
		return unarchive(ctx, strings.TrimPrefix(downloadLink, "file://"), localDir)
	}
	localFile := sceneFilePath(localDir, sceneID, service.GetExt(downloadLink))
	if err := u.DownloadToFile(ctx, localFile); err != nil {
		return service.MakeTemporary(fmt.Errorf("URL: %w", err))
	}
	defer os.Remove(localFile)
	return unarchive(ctx, localFile, localDir)
}

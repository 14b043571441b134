package provider

import (
	"context"
	"fmt"
	"strings"
)

// Provider fetches the files of a scene
type Provider interface {
	// Download the scene into <localDir>/<sceneID>/
	// sceneID is for example LC08_L2SP_190024_20240716_20240723_02_T1
	Download(ctx context.Context, sceneID, localDir string) error

	// Name of the provider
	Name() string
}

// ErrProductNotFound is an error returned when a product is not found or available
type ErrProductNotFound struct {
	Product string
}

func (e ErrProductNotFound) Error() string {
	return fmt.Sprintf("Product not found or unavailable: %s", e.Product)
}

// Config of the providers
type Config struct {
	// Local: root folder of the archives
	LocalPath string
	// URL: template of the download link (e.g. https://host/{YEAR}/{SCENE}.tar), see common.Info for the keys
	URLTemplate string
	// LandsatAws: credentials (default credential chain if empty)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
}

// New returns the provider by name: "local", "url" or "aws"
func New(name string, cfg Config) (Provider, error) {
	switch strings.ToLower(name) {
	case "local":
		if cfg.LocalPath == "" {
			return nil, fmt.Errorf("provider.New: missing path of the local provider")
		}
		return NewLocal(cfg.LocalPath), nil
	case "url":
		if cfg.URLTemplate == "" {
			return nil, fmt.Errorf("provider.New: missing url template")
		}
		return NewURL(cfg.URLTemplate), nil
	case "aws":
		return NewLandsatAws(cfg.AwsAccessKeyID, cfg.AwsSecretAccessKey), nil
	}
	return nil, fmt.Errorf("provider.New: unknown provider %s", name)
}

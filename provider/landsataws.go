package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	landsatAwsBucket         = "usgs-landsat"
	landsatAwsPrefixTemplate = "collection02/{LEVEL}/standard/{COLLECTION}/{YEAR}/{PATH}/{ROW}/{SCENE}/"
	landsatAwsRegion         = "us-west-2"
)

// LandsatAws implements Provider for the requester-pays bucket of the USGS on AWS
type LandsatAws struct {
	accessKeyId     string
	secretAccessKey string
}

// Name implements Provider
func (ip *LandsatAws) Name() string {
	return "LandsatAws"
}

// NewLandsatAws creates a new Provider from LandsatAws
func NewLandsatAws(accessKeyId, secretAccessKey string) *LandsatAws {
	return &LandsatAws{accessKeyId, secretAccessKey}
}

// Prefix returns the prefix of the objects of the scene in the bucket
func (ip *LandsatAws) Prefix(sceneID string) (string, error) {
	info, err := common.Info(sceneID)
	if err != nil {
		return "", fmt.Errorf("LandsatAws.%w", err)
	}
	return common.FormatBrackets(landsatAwsPrefixTemplate, info), nil
}

// Download implements Provider
func (ip *LandsatAws) Download(ctx context.Context, sceneID, localDir string) error {
	if !common.GetSensorFromSceneID(sceneID).Supported() {
		return fmt.Errorf("LandsatAws: %w", common.ErrUnsupportedSensor{Sensor: common.GetSensorFromSceneID(sceneID)})
	}
	prefix, err := ip.Prefix(sceneID)
	if err != nil {
		return err
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(landsatAwsRegion)}
	if ip.accessKeyId != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(ip.accessKeyId, ip.secretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("LandsatAws config.LoadDefaultConfig: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 10 * 1024 * 1024 // 10MB per part
	})

	paginator := s3.NewListObjectsV2Paginator(client,
		&s3.ListObjectsV2Input{
			Bucket:       aws.String(landsatAwsBucket),
			Prefix:       aws.String(prefix),
			RequestPayer: "requester",
		},
		func(o *s3.ListObjectsV2PaginatorOptions) {
			o.Limit = 200 // a Landsat product has about 20 files
		},
	)

	productDir := filepath.Join(localDir, strings.ToUpper(sceneID))
	if err := os.MkdirAll(productDir, 0755); err != nil {
		return fmt.Errorf("LandsatAws os.MkdirAll: %w", err)
	}

	n := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return service.MakeTemporary(fmt.Errorf("LandsatAws paginator.NextPage: %w", err))
		}
		for _, object := range page.Contents {
			objectKey := aws.ToString(object.Key)
			if strings.HasSuffix(objectKey, "/") {
				continue
			}
			objectFileName := objectKey[strings.LastIndex(objectKey, "/")+1:]
			if err := downloadSingleObjectToFile(ctx, downloader, landsatAwsBucket, objectKey, filepath.Join(productDir, objectFileName)); err != nil {
				return fmt.Errorf("LandsatAws.%w", err)
			}
			n++
		}
	}
	if n == 0 {
		os.Remove(productDir)
		return ErrProductNotFound{Product: "s3://" + landsatAwsBucket + "/" + prefix}
	}
	log.Logger(ctx).Sugar().Debugf("LandsatAws: %d files downloaded in %s", n, productDir)
	return nil
}

func downloadSingleObjectToFile(ctx context.Context, downloader *manager.Downloader, bucketName, objectKey, localPath string) error {
	err := service.WriteFileAtomic(localPath, func(tmp string) error {
		file, err := os.Create(tmp)
		if err != nil {
			return err
		}
		_, err = downloader.Download(ctx, file, &s3.GetObjectInput{
			Bucket:       aws.String(bucketName),
			Key:          aws.String(objectKey),
			RequestPayer: "requester",
		})
		if e := file.Close(); err == nil {
			err = e
		}
		return err
	})
	if err != nil {
		return service.MakeTemporary(fmt.Errorf("downloadSingleObjectToFile[%s:%s]: %w", bucketName, objectKey, err))
	}
	return nil
}

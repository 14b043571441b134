package service

import (
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"github.com/airbusgeo/geocube/interface/storage"
	"github.com/airbusgeo/geocube/interface/storage/uri"
	"github.com/google/uuid"
	"github.com/mholt/archiver"
)

// Extension of an exported file
type Extension string

// Some supported extensions
const (
	NoExtension    Extension = ""
	ExtensionGTiff Extension = "tif"
	ExtensionZIP   Extension = "zip"
	ExtensionTAR   Extension = "tar"
	ExtensionTGZ   Extension = "tar.gz"
	ExtensionJSON  Extension = "json"
	ExtensionTXT   Extension = "txt"
)

// ErrFileNotFound is an error returned by Import or Delete
type ErrFileNotFound struct {
	File string
}

func (e ErrFileNotFound) Error() string {
	return fmt.Sprintf("File not found: %s", e.File)
}

func isErrNotFound(err error) bool {
	var epath *os.PathError
	return errors.Is(err, gstorage.ErrObjectNotExist) ||
		(errors.As(err, &epath) && os.IsNotExist(epath))
}

// Storage is a service to export outputs to a storage and retrieve raw scenes from it
type Storage interface {
	// ExportDir uploads the files of localDir into <storage>/<remoteDir> (as one zip file if asZip) and returns their uris
	ExportDir(ctx context.Context, localDir, remoteDir string, asZip bool) ([]string, error)
	// Import downloads <storage>/<remotePath> into localDir and returns the local file
	// Raise ErrFileNotFound
	Import(ctx context.Context, remotePath, localDir string) (string, error)
	// Delete deletes <storage>/<remotePath>
	// Raise ErrFileNotFound
	Delete(ctx context.Context, remotePath string) error
}

// StorageStrategy implements Storage using geocube.Strategy
type StorageStrategy struct {
	storage storage.Strategy
	uri     uri.DefaultUri
}

// NewStorageStrategy creates a new StorageStrategy
func NewStorageStrategy(ctx context.Context, storageURI string) (*StorageStrategy, error) {
	uri, err := uri.ParseUri(storageURI)
	if err != nil {
		return nil, fmt.Errorf("NewStorageStrategy.ParseURI: %w", err)
	}

	storageClient, err := uri.NewStorageStrategy(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewStorageStrategy: %w", err)
	}

	return &StorageStrategy{storage: storageClient, uri: uri}, nil
}

// ExportDir implements Storage
func (ss *StorageStrategy) ExportDir(ctx context.Context, localDir, remoteDir string, asZip bool) ([]string, error) {
	var files []string
	if asZip {
		entries, err := os.ReadDir(localDir)
		if err != nil {
			return nil, fmt.Errorf("ExportDir.ReadDir: %w", err)
		}
		var sources []string
		for _, e := range entries {
			sources = append(sources, filepath.Join(localDir, e.Name()))
		}
		dst := filepath.Join(filepath.Dir(localDir), fmt.Sprintf(".%s-%s.%s", filepath.Base(localDir), uuid.New().String(), ExtensionZIP))
		zipper := archiver.NewZip()
		zipper.CompressionLevel = flate.BestSpeed
		if err := zipper.Archive(sources, dst); err != nil {
			return nil, fmt.Errorf("ExportDir.Archive: %w", err)
		}
		defer os.Remove(dst)
		uri, err := ss.upload(ctx, dst, path.Join(remoteDir, filepath.Base(localDir)+"."+string(ExtensionZIP)))
		if err != nil {
			return nil, fmt.Errorf("ExportDir.%w", err)
		}
		return []string{uri}, nil
	}

	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		uri, err := ss.upload(ctx, p, path.Join(remoteDir, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		files = append(files, uri)
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("ExportDir: %w", err)
	}
	return files, nil
}

// DeleteExport deletes from the storage the files that ExportDir(localDir, remoteDir, asZip) uploads.
// Files missing from the storage are ignored.
func DeleteExport(ctx context.Context, s Storage, localDir, remoteDir string, asZip bool) error {
	var remotePaths []string
	if asZip {
		remotePaths = []string{path.Join(remoteDir, filepath.Base(localDir)+"."+string(ExtensionZIP))}
	} else {
		err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return err
			}
			rel, err := filepath.Rel(localDir, p)
			if err != nil {
				return err
			}
			remotePaths = append(remotePaths, path.Join(remoteDir, filepath.ToSlash(rel)))
			return nil
		})
		if err != nil {
			return fmt.Errorf("DeleteExport: %w", err)
		}
	}

	var errs error
	for _, p := range remotePaths {
		if err := s.Delete(ctx, p); err != nil && !errors.As(err, &ErrFileNotFound{}) {
			errs = MergeErrors(true, errs, err)
		}
	}
	if errs != nil {
		return fmt.Errorf("DeleteExport: %w", errs)
	}
	return nil
}

func (ss *StorageStrategy) upload(ctx context.Context, src, remotePath string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("upload.Open: %w", err)
	}
	defer f.Close()

	dst := ss.getPath(remotePath)
	if err := ss.storage.UploadFile(ctx, dst, f); err != nil {
		return "", MakeTemporary(fmt.Errorf("upload.UploadFile to %s: %w", dst, err))
	}
	return dst, nil
}

// Import implements Storage
func (ss *StorageStrategy) Import(ctx context.Context, remotePath, localDir string) (string, error) {
	srcFile := ss.getPath(remotePath)
	dstFile := filepath.Join(localDir, path.Base(remotePath))
	if err := ss.storage.DownloadToFile(ctx, srcFile, dstFile); err != nil {
		if isErrNotFound(err) {
			return "", ErrFileNotFound{srcFile}
		}
		return "", fmt.Errorf("Import.DownloadToFile from %s: %w", srcFile, err)
	}
	return dstFile, nil
}

// Delete implements Storage
func (ss *StorageStrategy) Delete(ctx context.Context, remotePath string) error {
	file := ss.getPath(remotePath)
	if err := ss.storage.Delete(ctx, file); err != nil {
		if isErrNotFound(err) {
			return ErrFileNotFound{file}
		}
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// getPath returns the uri of remotePath in the storage
func (ss *StorageStrategy) getPath(remotePath string) string {
	uri := ss.uri.String()
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	return uri + strings.TrimPrefix(remotePath, "/")
}

// WithExt replaces the extension of filePath
func WithExt(filePath string, ext Extension) string {
	filePath = strings.TrimSuffix(filePath, filepath.Ext(filePath))
	if ext != "" {
		return fmt.Sprintf("%s.%s", filePath, string(ext))
	}
	return filePath
}

// GetExt returns the extension of filePath (handling .tar.gz)
func GetExt(filePath string) Extension {
	lower := strings.ToLower(filePath)
	if strings.HasSuffix(lower, "."+string(ExtensionTGZ)) {
		return ExtensionTGZ
	}
	ext := path.Ext(lower)
	if ext == "" {
		return NoExtension
	}
	return Extension(ext[1:])
}

// IsArchive returns true if the file can be unarchived
func IsArchive(filePath string) bool {
	switch GetExt(filePath) {
	case ExtensionZIP, ExtensionTAR, ExtensionTGZ:
		return true
	}
	return false
}

package service

import (
	"context"
	"errors"
	"os"
	"path"
	"testing"
)

func initLocalDirs() (string, string, string, error) {
	localdir, err := os.MkdirTemp("", "local")
	if err != nil {
		return "", "", "", err
	}
	distdir, err := os.MkdirTemp("", "dist")
	if err != nil {
		return "", "", "", err
	}
	localdir2, err := os.MkdirTemp("", "local2")
	return localdir, distdir, localdir2, err
}

func createFiles(dir, sceneID string) {
	os.MkdirAll(path.Join(dir, sceneID, "reprojected"), 0755)
	os.WriteFile(path.Join(dir, sceneID, "NDVI.tif"), []byte("test"), 0644)
	os.WriteFile(path.Join(dir, sceneID, "reprojected", "Red.tif"), []byte("test"), 0644)
	os.WriteFile(path.Join(dir, sceneID, ".NDVI.tif.tmp-1234"), []byte("partial"), 0644)
}

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()

	localdir, distdir, localdir2, err := initLocalDirs()
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(localdir)
	defer os.RemoveAll(localdir2)
	defer os.RemoveAll(distdir)

	sceneID := "LC08_L2SP_190024_20240716_20240723_02_T1"
	createFiles(localdir, sceneID)

	storage, err := NewStorageStrategy(ctx, distdir)
	if err != nil {
		t.Fatal(err)
	}

	// Export as files
	uris, err := storage.ExportDir(ctx, path.Join(localdir, sceneID), path.Join("batch", sceneID), false)
	if err != nil {
		t.Error(err)
	}
	if len(uris) != 2 {
		t.Errorf("expected 2 exported files (hidden files excluded), got %v", uris)
	}
	if _, err := os.Stat(path.Join(distdir, "batch", sceneID, "reprojected", "Red.tif")); err != nil {
		t.Error(err)
	}

	// Export as zip
	uris, err = storage.ExportDir(ctx, path.Join(localdir, sceneID), "zipped", true)
	if err != nil {
		t.Error(err)
	}
	if len(uris) != 1 {
		t.Errorf("expected 1 zip file, got %v", uris)
	}

	// Import
	f, err := storage.Import(ctx, path.Join("batch", sceneID, "NDVI.tif"), localdir2)
	if err != nil {
		t.Error(err)
	} else if f != path.Join(localdir2, "NDVI.tif") {
		t.Errorf("unexpected imported file %s", f)
	}

	// Delete
	if err := storage.Delete(ctx, path.Join("batch", sceneID, "NDVI.tif")); err != nil {
		t.Error(err)
	}
	if _, err := storage.Import(ctx, path.Join("batch", sceneID, "NDVI.tif"), localdir2); !errors.As(err, &ErrFileNotFound{}) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}
}

func TestDeleteExport(t *testing.T) {
	ctx := context.Background()
	localdir, distdir := t.TempDir(), t.TempDir()
	sceneID := "LC08_L2SP_190024_20240716_20240723_02_T1"
	createFiles(localdir, sceneID)

	storage, err := NewStorageStrategy(ctx, distdir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := storage.ExportDir(ctx, path.Join(localdir, sceneID), "batch", false); err != nil {
		t.Fatal(err)
	}
	if err := DeleteExport(ctx, storage, path.Join(localdir, sceneID), "batch", false); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"NDVI.tif", path.Join("reprojected", "Red.tif")} {
		if _, err := os.Stat(path.Join(distdir, "batch", f)); !os.IsNotExist(err) {
			t.Errorf("expected %s to be deleted (%v)", f, err)
		}
	}

	if _, err := storage.ExportDir(ctx, path.Join(localdir, sceneID), "zipped", true); err != nil {
		t.Fatal(err)
	}
	if err := DeleteExport(ctx, storage, path.Join(localdir, sceneID), "zipped", true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path.Join(distdir, "zipped", sceneID+".zip")); !os.IsNotExist(err) {
		t.Errorf("expected the zip file to be deleted (%v)", err)
	}
}

func TestGetExt(t *testing.T) {
	tests := map[string]Extension{
		"scene.tar.gz": ExtensionTGZ,
		"scene.TAR":    ExtensionTAR,
		"scene.zip":    ExtensionZIP,
		"B4.TIF":       ExtensionGTiff,
		"scene":        NoExtension,
	}
	for f, expected := range tests {
		if ext := GetExt(f); ext != expected {
			t.Errorf("GetExt(%s): expected %s, got %s", f, expected, ext)
		}
	}
	if !IsArchive("a.tar.gz") || IsArchive("a.tif") {
		t.Errorf("IsArchive")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir, err := os.MkdirTemp("", "atomic")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	dst := path.Join(dir, "sub", "out.txt")
	err = WriteFileAtomic(dst, func(tmp string) error {
		os.WriteFile(tmp, []byte("partial"), 0644)
		return errors.New("crash")
	})
	if err == nil {
		t.Errorf("expected an error")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("%s must not exist", dst)
	}
	if entries, _ := os.ReadDir(path.Join(dir, "sub")); len(entries) != 0 {
		t.Errorf("temporary file not removed: %v", entries)
	}

	if err := WriteBytesAtomic(dst, []byte("ok")); err != nil {
		t.Error(err)
	}
	if b, _ := os.ReadFile(dst); string(b) != "ok" {
		t.Errorf("expected ok, got %s", b)
	}
	if err := CopyFileAtomic(dst, dst+".copy"); err != nil {
		t.Error(err)
	}

	ss := NewStringSet("b", "a", "b")
	if sl := ss.Slice(); len(sl) != 2 || sl[0] != "a" || !ss.Exists("b") {
		t.Errorf("unexpected set %v", sl)
	}
}

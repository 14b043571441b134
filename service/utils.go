package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
)

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// NewStringSet creates a set from a list of strings
func NewStringSet(elems ...string) StringSet {
	ss := StringSet{}
	for _, e := range elems {
		ss.Push(e)
	}
	return ss
}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Pop removes the string from the set
func (ss StringSet) Pop(s string) {
	delete(ss, s)
}

// Slice returns a sorted slice from the set
func (ss StringSet) Slice() []string {
	sl := make([]string, 0, len(ss))
	for k := range ss {
		sl = append(sl, k)
	}
	sort.Strings(sl)
	return sl
}

// Exists returns true if the string already exists in the Set
func (ss StringSet) Exists(s string) bool {
	_, ok := ss[s]
	return ok
}

// TempPath returns a unique hidden path in the directory of dst, to be renamed into dst
func TempPath(dst string) string {
	return filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-"+uuid.New().String())
}

// WriteFileAtomic calls write with a temporary path then renames it into dst.
// dst is never visible partially written: on error, the temporary file is removed.
func WriteFileAtomic(dst string, write func(tmpPath string) error) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("WriteFileAtomic.MkdirAll: %w", err)
	}
	tmp := TempPath(dst)
	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("WriteFileAtomic[%s]: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("WriteFileAtomic.Rename: %w", err)
	}
	return nil
}

// WriteBytesAtomic writes data into dst using WriteFileAtomic
func WriteBytesAtomic(dst string, data []byte) error {
	return WriteFileAtomic(dst, func(tmp string) error {
		return os.WriteFile(tmp, data, 0644)
	})
}

// CopyFileAtomic copies src into dst using WriteFileAtomic
func CopyFileAtomic(src, dst string) error {
	return WriteFileAtomic(dst, func(tmp string) error {
		in, err := os.Open(src)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.Create(tmp)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}

// MoveFile renames src into dst, creating the parent directories of dst
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("MoveFile.MkdirAll: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("MoveFile: %w", err)
	}
	return nil
}

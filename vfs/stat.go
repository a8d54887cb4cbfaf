package vfs

import (
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Stat wraps the base file information with the MIME data callers use when
// deciding how to present a file. Entries listed out of the virtual root
// carry the mount name instead of the real directory's base name.
type Stat struct {
	os.FileInfo
	Mimetype string

	virtualName string
}

// Name returns the name the entry is known by inside the virtual namespace.
func (s Stat) Name() string {
	if s.virtualName != "" {
		return s.virtualName
	}
	return s.FileInfo.Name()
}

// statReal stats an already-resolved real path. The mime sniff only happens
// for regular files; directories get a fixed type.
func statReal(p string, virtualName string) (Stat, error) {
	s, err := os.Lstat(p)
	if err != nil {
		return Stat{}, err
	}

	st := Stat{FileInfo: s, Mimetype: "inode/directory", virtualName: virtualName}
	if s.Mode().IsRegular() {
		if m, err := mimetype.DetectFile(p); err == nil {
			st.Mimetype = m.String()
		} else {
			st.Mimetype = "application/octet-stream"
		}
	} else if !s.IsDir() {
		st.Mimetype = "application/octet-stream"
	}
	return st, nil
}

// virtualRootInfo is the synthetic directory entry returned when a client
// stats the namespace root. The root has no real backing path, but protocol
// clients still expect a stat for "/" to succeed so they can land there
// after login.
type virtualRootInfo struct{}

func (virtualRootInfo) Name() string       { return "/" }
func (virtualRootInfo) Size() int64        { return 0 }
func (virtualRootInfo) Mode() os.FileMode  { return os.ModeDir | 0o555 }
func (virtualRootInfo) ModTime() time.Time { return time.Time{} }
func (virtualRootInfo) IsDir() bool        { return true }
func (virtualRootInfo) Sys() interface{}   { return nil }

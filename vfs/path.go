package vfs

import (
	"path/filepath"
	"strings"
)

// Filesystem exposes a single user's virtual namespace. It holds no state of
// its own beyond the immutable user record, so instances are cheap and safe
// to share between goroutines.
type Filesystem struct {
	user *User
}

// New returns a Filesystem scoped to the given user's mount table.
func New(user *User) *Filesystem {
	return &Filesystem{user: user}
}

// User returns the user this filesystem is scoped to.
func (fs *Filesystem) User() *User {
	return fs.user
}

// normalize lexically collapses a client supplied path into its segments
// relative to the virtual root. "." segments are dropped, ".." pops the
// previously pushed segment, and a ".." with nothing left to pop means the
// client is trying to climb above the root: that fails here, before anything
// touches the disk. Root markers are discarded since every client path is
// interpreted relative to the virtual root. An empty segment list means the
// path addressed the root itself.
//
// This is a pure string transformation; filesystem state is only consulted
// later, during confinement.
func normalize(p string) ([]string, bool) {
	var stack []string
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "", ".":
		case "..":
			if len(stack) == 0 {
				return nil, false
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, segment)
		}
	}
	return stack, true
}

// Resolve maps a client supplied path onto the user's namespace. The first
// path segment selects a mount; everything after it is joined onto the
// mount's real directory and then verified against the live filesystem by
// the confinement pass. A path with no segments resolves to the virtual
// root, which only supports listing.
func (fs *Filesystem) Resolve(p string) (Resolution, error) {
	segments, ok := normalize(p)
	if !ok {
		return Resolution{}, newError(ErrCodeMalformedPath, nil, p)
	}
	if len(segments) == 0 {
		return Resolution{kind: resolutionVirtualRoot, virtual: p, mounts: fs.user.Mounts()}, nil
	}
	m, ok := fs.user.Mount(segments[0])
	if !ok {
		return Resolution{}, newError(ErrCodeUnknownMount, nil, p)
	}
	candidate := filepath.Join(append([]string{m.Path}, segments[1:]...)...)
	return confine(p, candidate, m)
}

type resolutionKind int

const (
	resolutionReadable resolutionKind = iota
	resolutionWritable
	resolutionVirtualRoot
)

// Resolution is the outcome of resolving a client path: a real path that may
// be read, a real path that may be read and written, or the virtual root.
// Rejections are returned as errors alongside the zero Resolution, never
// encoded into the value itself. A Resolution is only ever consumed by the
// request that produced it; the filesystem can change between requests so
// results must not be cached.
type Resolution struct {
	kind resolutionKind
	// The path as the client supplied it, kept for error reporting.
	virtual string
	path    string
	mount   *Mount
	mounts  []*Mount
}

// VirtualRoot reports whether the client addressed the namespace root.
func (r Resolution) VirtualRoot() bool {
	return r.kind == resolutionVirtualRoot
}

// Mounts returns the mount listing for a virtual root resolution.
func (r Resolution) Mounts() []*Mount {
	return r.mounts
}

// Mount returns the mount the resolved path lives in, or nil for the
// virtual root.
func (r Resolution) Mount() *Mount {
	return r.mount
}

// Writable reports whether write operations are permitted on the resolved
// path.
func (r Resolution) Writable() bool {
	return r.kind == resolutionWritable
}

// ReadPath returns the real path for read operations. The virtual root has
// no real path and rejects everything except a mount listing.
func (r Resolution) ReadPath() (string, error) {
	if r.kind == resolutionVirtualRoot {
		return "", newError(ErrCodePermissionDenied, nil, r.virtual)
	}
	return r.path, nil
}

// WritePath returns the real path for write operations. Read-only
// resolutions are a permission failure here even though the same resolution
// would satisfy a read.
func (r Resolution) WritePath() (string, error) {
	switch r.kind {
	case resolutionWritable:
		return r.path, nil
	default:
		return "", newError(ErrCodePermissionDenied, nil, r.virtual)
	}
}

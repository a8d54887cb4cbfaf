package vfs

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// The storage operations adapter: one method per protocol-level operation,
// each resolving the client path first and then demanding the minimum
// permission class the operation needs. All of the methods hit the real
// filesystem and will block the calling goroutine; sessions run on their own
// goroutines so one slow disk operation never stalls another session.

// Open opens a file for reading and returns its handle along with its stat
// information. Reading requires any resolution inside a mount; only the
// virtual root is refused.
func (fs *Filesystem) Open(p string) (*os.File, Stat, error) {
	r, err := fs.Resolve(p)
	if err != nil {
		return nil, Stat{}, err
	}
	real, err := r.ReadPath()
	if err != nil {
		return nil, Stat{}, err
	}
	st, err := statReal(real, "")
	if err != nil {
		return nil, Stat{}, newError(ErrCodeNotAvailable, err, p)
	}
	if st.IsDir() {
		return nil, Stat{}, newError(ErrCodeIsDirectory, nil, p)
	}
	f, err := os.Open(real)
	if err != nil {
		return nil, Stat{}, newError(ErrCodeNotAvailable, err, p)
	}
	return f, st, nil
}

// Touch opens a file for writing with the given open flags, creating it and
// any missing parent directories inside the mount when necessary. Protocol
// layers decide whether the handle truncates or writes at offsets.
func (fs *Filesystem) Touch(p string, flag int) (*os.File, error) {
	r, err := fs.Resolve(p)
	if err != nil {
		return nil, err
	}
	real, err := r.WritePath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Dir(real)); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
			return nil, errors.Wrap(err, "vfs: touch: failed to create directory tree")
		}
	}
	// Resolution already rejects paths ending in a link; O_NOFOLLOW fails
	// the open rather than follow one raced into place since then.
	f, err := os.OpenFile(real, flag|unix.O_NOFOLLOW, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "vfs: touch: failed to open file handle")
	}
	return f, nil
}

// Chmod changes the permission bits on a path inside a writable mount.
func (fs *Filesystem) Chmod(p string, mode os.FileMode) error {
	r, err := fs.Resolve(p)
	if err != nil {
		return err
	}
	real, err := r.WritePath()
	if err != nil {
		return err
	}
	if err := os.Chmod(real, mode); err != nil {
		return newError(ErrCodeNotAvailable, err, p)
	}
	return nil
}

// Writefile streams the reader's content into the file at the given virtual
// path, truncating anything already there. Returns the number of bytes
// written.
func (fs *Filesystem) Writefile(p string, r io.Reader) (int64, error) {
	res, err := fs.Resolve(p)
	if err != nil {
		return 0, err
	}
	real, err := res.WritePath()
	if err != nil {
		return 0, err
	}
	if st, err := os.Stat(real); err == nil && st.IsDir() {
		return 0, newError(ErrCodeIsDirectory, nil, p)
	}
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return 0, errors.Wrap(err, "vfs: writefile: failed to create directory tree")
	}
	f, err := os.OpenFile(real, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW, 0o644)
	if err != nil {
		return 0, errors.Wrap(err, "vfs: writefile: failed to open file handle")
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	n, err := io.Copy(buf, r)
	if err != nil {
		return n, errors.Wrap(err, "vfs: writefile: failed to copy content")
	}
	return n, buf.Flush()
}

// Delete removes a single file. Directories are removed with
// RemoveDirectory, not here. Resolution canonicalizes through symlinks, so
// deleting a path that is a link inside the mount removes the link's
// target and leaves the link itself behind.
func (fs *Filesystem) Delete(p string) error {
	r, err := fs.Resolve(p)
	if err != nil {
		return err
	}
	real, err := r.WritePath()
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil {
		return newError(ErrCodeNotAvailable, err, p)
	}
	return nil
}

// CreateDirectory creates a single new directory at the given virtual path.
// The parent must already exist; this mirrors the protocol's mkdir rather
// than building whole trees on behalf of the client.
func (fs *Filesystem) CreateDirectory(p string) error {
	r, err := fs.Resolve(p)
	if err != nil {
		return err
	}
	real, err := r.WritePath()
	if err != nil {
		return err
	}
	if err := os.Mkdir(real, 0o755); err != nil {
		return newError(ErrCodeNotAvailable, err, p)
	}
	return nil
}

// RemoveDirectory removes an empty directory.
func (fs *Filesystem) RemoveDirectory(p string) error {
	r, err := fs.Resolve(p)
	if err != nil {
		return err
	}
	real, err := r.WritePath()
	if err != nil {
		return err
	}
	if err := os.Remove(real); err != nil {
		return newError(ErrCodeNotAvailable, err, p)
	}
	return nil
}

// Rename moves a file or directory between two virtual paths. Both endpoints
// must independently resolve writable; the source must also exist and be a
// plain file or directory before the rename is attempted, so special files
// cannot be dragged around through the namespace. As with Delete, a source
// that is an in-mount symlink resolves to its target, and the target is
// what moves.
func (fs *Filesystem) Rename(from string, to string) error {
	var fromReal, toReal string

	g := new(errgroup.Group)
	g.Go(func() error {
		r, err := fs.Resolve(from)
		if err != nil {
			return err
		}
		fromReal, err = r.WritePath()
		return err
	})
	g.Go(func() error {
		r, err := fs.Resolve(to)
		if err != nil {
			return err
		}
		toReal, err = r.WritePath()
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	st, err := os.Lstat(fromReal)
	if err != nil {
		return newError(ErrCodeNotAvailable, err, from)
	}
	if !st.Mode().IsRegular() && !st.IsDir() {
		return newError(ErrCodeNotAvailable, nil, from)
	}

	if err := os.Rename(fromReal, toReal); err != nil {
		return newError(ErrCodeNotAvailable, err, from)
	}
	return nil
}

// List returns the entries visible at the given virtual path. At the virtual
// root the mount table itself is enumerated, one entry per mount named by
// its mount name, with metadata taken from each mount's real directory.
// Inside a mount it is a plain directory listing.
func (fs *Filesystem) List(p string) ([]Stat, error) {
	r, err := fs.Resolve(p)
	if err != nil {
		return nil, err
	}

	if r.VirtualRoot() {
		mounts := r.Mounts()
		out := make([]Stat, len(mounts))

		g := new(errgroup.Group)
		for i, m := range mounts {
			i, m := i, m
			g.Go(func() error {
				st, err := statReal(m.Path, m.Name)
				if err != nil {
					return newError(ErrCodeNotAvailable, err, m.Name)
				}
				out[i] = st
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}

	real, err := r.ReadPath()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(real)
	if err != nil {
		return nil, newError(ErrCodeNotAvailable, err, p)
	}

	out := make([]Stat, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Stat{FileInfo: info})
	}
	return out, nil
}

// Chdir verifies that the given virtual path can be used as a working
// directory. The virtual root always qualifies; anything else must resolve
// to a readable directory.
func (fs *Filesystem) Chdir(p string) error {
	r, err := fs.Resolve(p)
	if err != nil {
		return err
	}
	if r.VirtualRoot() {
		return nil
	}
	real, err := r.ReadPath()
	if err != nil {
		return err
	}
	st, err := os.Stat(real)
	if err != nil {
		return newError(ErrCodeNotAvailable, err, p)
	}
	if !st.IsDir() {
		return newError(ErrCodeNotAvailable, nil, p)
	}
	return nil
}

// Stat returns the metadata for a virtual path. The virtual root stats as a
// synthetic read-only directory.
func (fs *Filesystem) Stat(p string) (Stat, error) {
	r, err := fs.Resolve(p)
	if err != nil {
		return Stat{}, err
	}
	if r.VirtualRoot() {
		return Stat{FileInfo: virtualRootInfo{}, Mimetype: "inode/directory"}, nil
	}
	real, err := r.ReadPath()
	if err != nil {
		return Stat{}, err
	}
	st, err := statReal(real, "")
	if err != nil {
		return Stat{}, newError(ErrCodeNotAvailable, err, p)
	}
	return st, nil
}

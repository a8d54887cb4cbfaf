package vfs

import (
	"os"
	"path/filepath"
	"strings"
)

// confine canonicalizes a candidate real path against the live filesystem
// and verifies the result still lives inside the mount's bound directory.
// This is the actual security boundary: the lexical pass in normalize only
// rejects the cheap cases, while this pass catches symlinks (and anything
// else the real directory tree does) that would carry the path outside the
// mount. It runs on every request and its result is never cached, since the
// tree can change between requests.
//
// A path that resolves inside the mount is classified read-only when the
// mount itself is read-only, or when it addresses the mount's bind point:
// the bind point is namespace structure, not client content, so generic
// write operations never apply to it even on a writable mount.
func confine(virtual string, candidate string, m *Mount) (Resolution, error) {
	resolved, err := canonicalize(virtual, candidate, m)
	if err != nil {
		return Resolution{}, err
	}

	if !isInMount(resolved, m.Path) {
		return Resolution{}, NewEscapeError(virtual, resolved)
	}

	kind := resolutionWritable
	if m.ReadOnly || isMountRoot(resolved, m) {
		kind = resolutionReadable
	}
	return Resolution{kind: kind, virtual: virtual, path: resolved, mount: m}, nil
}

// canonicalize resolves the candidate path's symlinks using actual
// filesystem state. When the path does not exist yet (a file about to be
// created), the directory chain is walked upwards until an ancestor that
// does exist canonicalizes; if that ancestor is still inside the mount the
// original candidate is accepted as-is, since every existing component has
// been proven not to be a link.
//
// A missing entry and a symlink whose target is missing both make
// EvalSymlinks report ENOENT. The two must not be conflated: opening a
// dangling link with O_CREATE plants the file at the link's target, so
// every component that fails to canonicalize is Lstat'ed and the
// resolution is rejected when the component turns out to be a link.
func canonicalize(virtual string, candidate string, m *Mount) (string, error) {
	resolved, err := filepath.EvalSymlinks(candidate)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", newError(ErrCodeCanonicalization, err, virtual)
	}
	if err := rejectDanglingLink(virtual, candidate, m); err != nil {
		return "", err
	}

	// The requested path doesn't exist, so iterate up the directory chain
	// until we hit one that does and can be validated.
	parts := strings.Split(filepath.Dir(candidate), "/")

	var ancestor string
	for k := range parts {
		try := strings.Join(parts[:len(parts)-k], "/")

		if !isInMount(try, m.Path) {
			break
		}

		if t, err := filepath.EvalSymlinks(try); err == nil {
			ancestor = t
			break
		}
		if err := rejectDanglingLink(virtual, try, m); err != nil {
			return "", err
		}
	}

	if ancestor == "" || !isInMount(ancestor, m.Path) {
		return "", NewEscapeError(virtual, ancestor)
	}
	return candidate, nil
}

// rejectDanglingLink fails the resolution when p exists as a symlink even
// though it did not canonicalize: the link's target is missing, and
// treating the lexical path as a plain missing entry would let write
// operations create the target through the link. A link pointing outside
// the mount is an escape; one pointing inside is a broken link.
func rejectDanglingLink(virtual string, p string, m *Mount) error {
	st, err := os.Lstat(p)
	if err != nil || st.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	target, err := os.Readlink(p)
	if err != nil {
		return newError(ErrCodeCanonicalization, err, virtual)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(p), target)
	}
	if !isInMount(target, m.Path) {
		return NewEscapeError(virtual, target)
	}
	return newError(ErrCodeCanonicalization, nil, virtual)
}

// isInMount checks that p lives at or below the mount's bound directory.
// Both sides get a trailing slash so that a sibling directory sharing the
// mount path as a string prefix ("/srv/data-other" vs "/srv/data") does not
// pass.
func isInMount(p string, root string) bool {
	return strings.HasPrefix(strings.TrimSuffix(p, "/")+"/", strings.TrimSuffix(root, "/")+"/")
}

// isMountRoot reports whether the canonical path addresses the mount's bind
// point. The bound directory itself always matches; beyond that the check is
// a strict comparison of the final path component against the mount's name,
// matching how clients address the bind point through the virtual namespace.
func isMountRoot(p string, m *Mount) bool {
	return p == strings.TrimSuffix(m.Path, "/") || filepath.Base(p) == m.Name
}

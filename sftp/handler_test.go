package sftp

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mountgate/mountgate/vfs"
)

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()

	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(root, "photos"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	user := vfs.NewUser("alice", "secret", []*vfs.Mount{
		{Name: "photos", Path: filepath.Join(root, "photos")},
		{Name: "docs", Path: filepath.Join(root, "docs"), ReadOnly: true},
	})

	h := &Handler{
		fs:     vfs.New(user),
		logger: log.WithFields(log.Fields{"subsystem": "sftp", "username": "alice"}),
	}
	return h, root
}

func TestHandler_Fileread(t *testing.T) {
	h, root := newTestHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "photos/a.jpg"), []byte("content"), 0o644))

	r, err := h.Fileread(&sftp.Request{Method: "Get", Filepath: "/photos/a.jpg"})
	require.NoError(t, err)
	defer r.(*os.File).Close()

	buf := make([]byte, 7)
	_, err = r.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "content", string(buf))

	_, err = h.Fileread(&sftp.Request{Method: "Get", Filepath: "/photos/missing.jpg"})
	assert.Equal(t, sftp.ErrSSHFxNoSuchFile, err)
}

func TestHandler_Filewrite(t *testing.T) {
	h, root := newTestHandler(t)

	w, err := h.Filewrite(&sftp.Request{Method: "Put", Filepath: "/photos/new.jpg"})
	require.NoError(t, err)
	_, err = w.WriteAt([]byte("data"), 0)
	require.NoError(t, err)
	require.NoError(t, w.(*os.File).Close())

	b, err := os.ReadFile(filepath.Join(root, "photos/new.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))

	_, err = h.Filewrite(&sftp.Request{Method: "Put", Filepath: "/docs/new.txt"})
	assert.Equal(t, sftp.ErrSSHFxPermissionDenied, err)

	_, err = h.Filewrite(&sftp.Request{Method: "Put", Filepath: "/nope/new.txt"})
	assert.Equal(t, sftp.ErrSSHFxNoSuchFile, err)
}

func TestHandler_Filecmd(t *testing.T) {
	h, root := newTestHandler(t)

	err := h.Filecmd(&sftp.Request{Method: "Mkdir", Filepath: "/photos/2024"})
	require.Equal(t, sftp.ErrSSHFxOk, err)
	_, serr := os.Stat(filepath.Join(root, "photos/2024"))
	require.NoError(t, serr)

	require.NoError(t, os.WriteFile(filepath.Join(root, "photos/old.jpg"), []byte("x"), 0o644))
	err = h.Filecmd(&sftp.Request{Method: "Rename", Filepath: "/photos/old.jpg", Target: "/photos/2024/new.jpg"})
	require.Equal(t, sftp.ErrSSHFxOk, err)

	err = h.Filecmd(&sftp.Request{Method: "Remove", Filepath: "/docs/anything.txt"})
	assert.Equal(t, sftp.ErrSSHFxPermissionDenied, err)

	err = h.Filecmd(&sftp.Request{Method: "Symlink", Filepath: "/photos/a", Target: "/photos/b"})
	assert.Equal(t, sftp.ErrSSHFxOpUnsupported, err)

	err = h.Filecmd(&sftp.Request{Method: "Remove", Filepath: "/photos/../../etc/passwd"})
	assert.Equal(t, sftp.ErrSSHFxNoSuchFile, err)
}

func TestHandler_Filelist(t *testing.T) {
	h, root := newTestHandler(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs/readme.txt"), []byte("x"), 0o644))

	// The virtual root lists the mount table.
	l, err := h.Filelist(&sftp.Request{Method: "List", Filepath: "/"})
	require.NoError(t, err)

	infos := make([]os.FileInfo, 2)
	n, lerr := l.ListAt(infos, 0)
	require.Equal(t, 2, n)
	require.Equal(t, io.EOF, lerr)
	assert.Equal(t, "photos", infos[0].Name())
	assert.Equal(t, "docs", infos[1].Name())

	l, err = h.Filelist(&sftp.Request{Method: "Stat", Filepath: "/docs/readme.txt"})
	require.NoError(t, err)
	n, _ = l.ListAt(infos[:1], 0)
	require.Equal(t, 1, n)
	assert.Equal(t, "readme.txt", infos[0].Name())

	_, err = h.Filelist(&sftp.Request{Method: "List", Filepath: "/music"})
	assert.Equal(t, sftp.ErrSSHFxNoSuchFile, err)
}

func TestListerAt(t *testing.T) {
	h, root := newTestHandler(t)
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "photos", name), []byte("x"), 0o644))
	}

	l, err := h.Filelist(&sftp.Request{Method: "List", Filepath: "/photos"})
	require.NoError(t, err)

	one := make([]os.FileInfo, 1)
	n, lerr := l.ListAt(one, 0)
	assert.Equal(t, 1, n)
	assert.Nil(t, lerr)

	n, lerr = l.ListAt(one, 2)
	assert.Equal(t, 1, n)
	assert.Equal(t, io.EOF, lerr)

	n, lerr = l.ListAt(one, 3)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, lerr)
}

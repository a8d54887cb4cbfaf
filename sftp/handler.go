package sftp

import (
	"io"
	"os"

	"github.com/apex/log"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/mountgate/mountgate/vfs"
)

// Handler backs a single SFTP session with the authenticated user's virtual
// filesystem. Every path that comes in over the wire goes through the vfs
// resolution pipeline; nothing in here touches the disk with a raw client
// path.
type Handler struct {
	fs     *vfs.Filesystem
	logger *log.Entry
}

// NewHandler returns a handler for the requests of a single authenticated
// session.
func NewHandler(sconn *ssh.ServerConn, fs *vfs.Filesystem) *Handler {
	return &Handler{
		fs: fs,
		logger: log.WithFields(log.Fields{
			"subsystem": "sftp",
			"username":  fs.User().Name,
			"ip":        sconn.RemoteAddr().String(),
		}),
	}
}

// Handlers returns the set of handlers used to route SFTP requests.
func (h *Handler) Handlers() sftp.Handlers {
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

// Fileread creates a reader for a file on the system and returns the reader
// back to the stream.
func (h *Handler) Fileread(request *sftp.Request) (io.ReaderAt, error) {
	f, _, err := h.fs.Open(request.Filepath)
	if err != nil {
		return nil, h.status(err, request, "failed to open file for reading")
	}
	return f, nil
}

// Filewrite handles the write actions for a file on the system.
func (h *Handler) Filewrite(request *sftp.Request) (io.WriterAt, error) {
	flag := os.O_RDWR | os.O_CREATE
	if pflags := request.Pflags(); pflags.Trunc {
		flag |= os.O_TRUNC
	}
	f, err := h.fs.Touch(request.Filepath, flag)
	if err != nil {
		return nil, h.status(err, request, "failed to open file for writing")
	}
	return f, nil
}

// Filecmd handles the basic SFTP calls that are not reads or writes of file
// content.
func (h *Handler) Filecmd(request *sftp.Request) error {
	switch request.Method {
	case "Setstat":
		mode := os.FileMode(0o644)
		// If the client passed a valid file permission use that, otherwise
		// fall back to the default.
		if request.Attributes().FileMode().Perm() != 0o000 {
			mode = request.Attributes().FileMode().Perm()
		}
		if request.Attributes().FileMode().IsDir() {
			mode = 0o755
		}
		if err := h.fs.Chmod(request.Filepath, mode); err != nil {
			return h.status(err, request, "failed to perform setstat on item")
		}
		return sftp.ErrSSHFxOk
	case "Rename":
		if err := h.fs.Rename(request.Filepath, request.Target); err != nil {
			return h.status(err, request, "failed to rename item")
		}
		return sftp.ErrSSHFxOk
	case "Rmdir":
		if err := h.fs.RemoveDirectory(request.Filepath); err != nil {
			return h.status(err, request, "failed to remove directory")
		}
		return sftp.ErrSSHFxOk
	case "Mkdir":
		if err := h.fs.CreateDirectory(request.Filepath); err != nil {
			return h.status(err, request, "failed to create directory")
		}
		return sftp.ErrSSHFxOk
	case "Remove":
		if err := h.fs.Delete(request.Filepath); err != nil {
			return h.status(err, request, "failed to remove file")
		}
		return sftp.ErrSSHFxOk
	default:
		// Symlink creation is deliberately unsupported: a client-made link
		// is exactly the escape vector the confinement pass exists to stop.
		return sftp.ErrSSHFxOpUnsupported
	}
}

// Filelist handles SFTP directory listings as well as stat calls.
func (h *Handler) Filelist(request *sftp.Request) (sftp.ListerAt, error) {
	switch request.Method {
	case "List":
		entries, err := h.fs.List(request.Filepath)
		if err != nil {
			return nil, h.status(err, request, "failed to list directory")
		}
		infos := make([]os.FileInfo, len(entries))
		for i, e := range entries {
			infos[i] = e
		}
		return ListerAt(infos), nil
	case "Stat":
		st, err := h.fs.Stat(request.Filepath)
		if err != nil {
			return nil, h.status(err, request, "failed to stat item")
		}
		return ListerAt([]os.FileInfo{st}), nil
	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

// status translates a vfs rejection into the matching SFTP status response,
// logging anything that was not a routine client mistake. A confinement
// escape is reported to the client exactly like a missing file so the
// response shape never reveals where a mount is bound.
func (h *Handler) status(err error, request *sftp.Request, msg string) error {
	e, ok := vfs.AsError(err)
	if !ok {
		h.logger.WithField("path", request.Filepath).WithField("error", err).Error(msg)
		return sftp.ErrSSHFxFailure
	}

	switch e.Code() {
	case vfs.ErrCodePermissionDenied:
		return sftp.ErrSSHFxPermissionDenied
	case vfs.ErrCodeMalformedPath, vfs.ErrCodeUnknownMount, vfs.ErrCodeCanonicalization, vfs.ErrCodeEscape, vfs.ErrCodeNotAvailable:
		return sftp.ErrSSHFxNoSuchFile
	case vfs.ErrCodeIsDirectory:
		return sftp.ErrSSHFxFailure
	default:
		h.logger.WithField("path", request.Filepath).WithField("error", err).Error(msg)
		return sftp.ErrSSHFxFailure
	}
}

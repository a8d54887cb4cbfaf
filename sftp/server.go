package sftp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/mountgate/mountgate/config"
	"github.com/mountgate/mountgate/vfs"
)

// How many failed password attempts a single address gets within the
// tracking window before new connections from it are rejected outright,
// without consulting the identity store at all.
const maxFailedAttempts = 10

type Server struct {
	store *vfs.Store

	// BasePath is the daemon's own data directory; the generated host key
	// lives under it.
	BasePath string
	Listen   string

	maxAuthTries int

	// Tracks failed password attempts per remote address. Entries expire on
	// their own, so a well-behaved client that fat-fingers a password twice
	// is forgotten a few minutes later.
	attempts *cache.Cache
}

func New(store *vfs.Store) *Server {
	cfg := config.Get().System
	return &Server{
		store:        store,
		BasePath:     cfg.Data,
		Listen:       cfg.Sftp.Address + ":" + strconv.Itoa(cfg.Sftp.Port),
		maxAuthTries: cfg.Sftp.MaxAuthTries,
		attempts:     cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Run starts the SFTP server and blocks handling inbound connections.
func (c *Server) Run() error {
	if _, err := os.Stat(path.Join(c.BasePath, ".sftp/id_rsa")); os.IsNotExist(err) {
		if err := c.generatePrivateKey(); err != nil {
			return err
		}
	} else if err != nil {
		return errors.Wrap(err, "sftp/server: could not stat private key file")
	}
	pb, err := os.ReadFile(path.Join(c.BasePath, ".sftp/id_rsa"))
	if err != nil {
		return errors.Wrap(err, "sftp/server: could not read private key file")
	}
	private, err := ssh.ParsePrivateKey(pb)
	if err != nil {
		return err
	}

	conf := &ssh.ServerConfig{
		NoClientAuth:     false,
		MaxAuthTries:     c.maxAuthTries,
		PasswordCallback: c.passwordCallback,
	}
	conf.AddHostKey(private)

	listener, err := net.Listen("tcp", c.Listen)
	if err != nil {
		return err
	}

	log.WithField("listen", c.Listen).Info("sftp server listening for connections")
	for {
		if conn, _ := listener.Accept(); conn != nil {
			go func(conn net.Conn) {
				defer conn.Close()
				c.AcceptInbound(conn, conf)
			}(conn)
		}
	}
}

// AcceptInbound performs the SSH handshake on an inbound connection and
// serves SFTP sessions over it. Each session gets a filesystem scoped to the
// authenticated user's mount table and nothing else.
func (c *Server) AcceptInbound(conn net.Conn, conf *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, conf)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		// Anything other than a session channel is not something we serve.
		if ch.ChannelType() != "session" {
			ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := ch.Accept()
		if err != nil {
			continue
		}

		go func(in <-chan *ssh.Request) {
			for req := range in {
				// Channels have a type that is dependent on the protocol. For
				// SFTP this is "subsystem" with a payload that (should) be
				// "sftp". Discard anything else we receive ("pty", "shell").
				req.Reply(isSftpSubsystem(req), nil)
			}
		}(requests)

		// The username was attached to the permissions during the password
		// callback. If it is missing, or no longer maps to a user, something
		// in the authentication flow went wrong; drop the channel.
		username := sconn.Permissions.Extensions["username"]
		user, ok := c.store.Get(username)
		if !ok {
			continue
		}

		handler := sftp.NewRequestServer(channel, NewHandler(sconn, vfs.New(user)).Handlers())
		if err := handler.Serve(); err == io.EOF {
			handler.Close()
		}
	}
}

// isSftpSubsystem reports whether a channel request asks for the SFTP
// subsystem. The payload is client-controlled: a length-prefixed string
// that may be shorter than its own four byte prefix, so the length is
// checked before slicing rather than trusting the wire.
func isSftpSubsystem(req *ssh.Request) bool {
	return req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
}

// generatePrivateKey writes a fresh RSA host key for the SFTP server.
func (c *Server) generatePrivateKey() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.MkdirAll(path.Join(c.BasePath, ".sftp"), 0o755); err != nil {
		return errors.Wrap(err, "sftp/server: could not create .sftp directory")
	}
	o, err := os.OpenFile(path.Join(c.BasePath, ".sftp/id_rsa"), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.WithStack(err)
	}
	defer o.Close()

	err = pem.Encode(o, &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return errors.WithStack(err)
}

// passwordCallback validates a username and password pair against the
// identity store. The store already imposes the fixed failure delay; on top
// of that, addresses racking up repeated failures are cut off before the
// store is even consulted.
func (c *Server) passwordCallback(conn ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
	logger := log.WithFields(log.Fields{"subsystem": "sftp", "username": conn.User(), "ip": conn.RemoteAddr().String()})

	key := addressKey(conn.RemoteAddr())
	if v, ok := c.attempts.Get(key); ok && v.(int) >= maxFailedAttempts {
		logger.Warn("rejecting connection from address with too many failed authentication attempts")
		return nil, vfs.ErrBadCredentials
	}

	user, err := c.store.Authenticate(conn.User(), string(pass))
	if err != nil {
		if _, ierr := c.attempts.IncrementInt(key, 1); ierr != nil {
			c.attempts.Set(key, 1, cache.DefaultExpiration)
		}
		logger.Warn("failed to validate user credentials (invalid username or password)")
		return nil, err
	}

	c.attempts.Delete(key)
	logger.Debug("credentials validated for SFTP connection")

	return &ssh.Permissions{
		Extensions: map[string]string{
			"username": user.Name,
		},
	}, nil
}

// addressKey reduces a remote address to its host so that every connection
// from one client shares a failure counter regardless of source port.
func addressKey(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleConfig = `
debug: true
system:
  data: /tmp/mountgate-test
  sftp:
    bind_address: 127.0.0.1
    bind_port: 2024
users:
  - name: alice
    password: secret
    mounts:
      - name: photos
        path: /srv/alice/photos
      - name: docs
        path: /srv/alice/docs
        read_only: true
  - name: bob
    password: hunter2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestFromFile(t *testing.T) {
	c, err := FromFile(writeConfig(t, exampleConfig))
	require.NoError(t, err)

	assert.True(t, c.Debug)
	assert.Equal(t, "/tmp/mountgate-test", c.System.Data)
	assert.Equal(t, "127.0.0.1", c.System.Sftp.Address)
	assert.Equal(t, 2024, c.System.Sftp.Port)
	// Values not present in the file fall back to their defaults.
	assert.Equal(t, 6, c.System.Sftp.MaxAuthTries)
	assert.Equal(t, "/var/log/mountgate", c.System.LogDirectory)

	require.Len(t, c.Users, 2)
	assert.Equal(t, "alice", c.Users[0].Name)
	require.Len(t, c.Users[0].Mounts, 2)
	assert.True(t, c.Users[0].Mounts[1].ReadOnly)
	assert.Empty(t, c.Users[1].Mounts)
}

func TestFromFile_Missing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		content string
		ok      bool
	}{
		"valid": {exampleConfig, true},
		"missing password": {`
users:
  - name: alice
`, false},
		"duplicate user": {`
users:
  - name: alice
    password: a
  - name: alice
    password: b
`, false},
		"duplicate mount": {`
users:
  - name: alice
    password: a
    mounts:
      - {name: photos, path: /srv/a}
      - {name: photos, path: /srv/b}
`, false},
		"relative mount path": {`
users:
  - name: alice
    password: a
    mounts:
      - {name: photos, path: srv/photos}
`, false},
		"mount name with slash": {`
users:
  - name: alice
    password: a
    mounts:
      - {name: "a/b", path: /srv/photos}
`, false},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromFile(writeConfig(t, tc.content))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStore(t *testing.T) {
	c, err := FromFile(writeConfig(t, exampleConfig))
	require.NoError(t, err)

	s := c.Store()
	assert.Equal(t, 2, s.Len())

	alice, ok := s.Get("alice")
	require.True(t, ok)

	mounts := alice.Mounts()
	require.Len(t, mounts, 2)
	assert.Equal(t, "photos", mounts[0].Name)
	assert.Equal(t, "/srv/alice/photos", mounts[0].Path)
	assert.False(t, mounts[0].ReadOnly)
	assert.True(t, mounts[1].ReadOnly)

	bob, ok := s.Get("bob")
	require.True(t, ok)
	assert.Empty(t, bob.Mounts())
}

func TestWriteToDisk(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "config.yml")
	c, err := NewAtPath(p)
	require.NoError(t, err)
	c.Users = []UserConfiguration{{Name: "alice", Password: "secret"}}

	require.NoError(t, c.WriteToDisk())

	st, err := os.Stat(p)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	rc, err := FromFile(p)
	require.NoError(t, err)
	assert.Equal(t, "alice", rc.Users[0].Name)
}

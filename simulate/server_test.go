package simulate

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/asaconsole/internal/config"
	"github.com/sshcollectorpro/asaconsole/pkg/asa"
	"github.com/sshcollectorpro/asaconsole/pkg/ssh"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
)

func startServer(t *testing.T, p Profile) *Server {
	t.Helper()
	p.Listen = "127.0.0.1:0"
	srv, err := NewServer(p)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func sshConsole(t *testing.T, srv *Server, password string) *asa.Console {
	t.Helper()
	addr := srv.Addr().(*net.TCPAddr)
	c, err := asa.NewSSH(terminal.Options{
		Host:           "127.0.0.1",
		Port:           addr.Port,
		User:           "admin",
		Password:       password,
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 2 * time.Second,
		PollInterval:   10 * time.Millisecond,
	}, ssh.Config{}, "secret")
	require.NoError(t, err)
	return c
}

func TestServerSession(t *testing.T) {
	srv := startServer(t, DefaultProfile())
	c := sshConsole(t, srv, "admin")

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "TEST# ", c.Terminal().Prompt())

	v, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, "9.8(4)", v)

	node, err := c.RunningConfig("terminal")
	require.NoError(t, err)
	assert.Equal(t, "511", node.Select("terminal width", "").Data())

	_, err = c.ConfigExec("object network WEB")
	require.NoError(t, err)
	_, err = c.ConfigExec("host 10.1.1.10")
	require.NoError(t, err)

	node, err = c.RunningConfig("object id WEB")
	require.NoError(t, err)
	obj := node.Select("object network", "WEB")
	require.NotNil(t, obj)
	assert.Equal(t, "host 10.1.1.10\n", obj.Nested())

	require.NoError(t, c.Disconnect())
	assert.False(t, c.Connected())
}

func TestServerRejectsBadPassword(t *testing.T) {
	srv := startServer(t, DefaultProfile())
	c := sshConsole(t, srv, "wrong")

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, asa.ErrAuthenticationFailure)
	assert.Equal(t, "authentication-failure", asa.ErrorKind(err))
}

func TestServerSessionsAreIndependent(t *testing.T) {
	srv := startServer(t, DefaultProfile())

	first := sshConsole(t, srv, "admin")
	require.NoError(t, first.Connect(context.Background()))
	_, err := first.ConfigExecTop("hostname FW1")
	require.NoError(t, err)
	require.NoError(t, first.Disconnect())

	second := sshConsole(t, srv, "admin")
	require.NoError(t, second.Connect(context.Background()))
	assert.Equal(t, "TEST# ", second.Terminal().Prompt())
	require.NoError(t, second.Disconnect())
}

func TestServerPersistsHostKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "host_rsa.pem")

	first, err := loadOrCreateHostKey(path)
	require.NoError(t, err)
	second, err := loadOrCreateHostKey(path)
	require.NoError(t, err)

	assert.Equal(t, first.PublicKey().Marshal(), second.PublicKey().Marshal())
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: EDGE\nversion: 9.12(4)\nusers:\n  ops: hunter2\n"), 0o644))

	p, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "EDGE", p.Hostname)
	assert.Equal(t, "9.12(4)", p.Version)
	assert.Equal(t, "hunter2", p.Users["ops"])
	assert.Equal(t, "secret", p.EnableSecret)
	assert.Equal(t, "ASA5516", p.Model)
}

func TestStartFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simulate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: EDGE\n"), 0o644))

	srv, err := Start(config.SimulateConfig{ConfigFile: path, Listen: "127.0.0.1:0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	c := sshConsole(t, srv, "admin")
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "EDGE# ", c.Terminal().Prompt())
	require.NoError(t, c.Disconnect())
}

func TestStartMissingProfile(t *testing.T) {
	_, err := Start(config.SimulateConfig{ConfigFile: filepath.Join(t.TempDir(), "none.yaml"), Listen: "127.0.0.1:0"})
	assert.Error(t, err)
}

// Package ssh is the SSH transport for terminal sessions. It opens an
// interactive shell on a PTY and exposes the raw byte stream through
// terminal.Transport.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sshcollectorpro/asaconsole/pkg/logger"
	"github.com/sshcollectorpro/asaconsole/pkg/terminal"
)

const (
	defaultPort = 22
	readBufSize = 4096
	// chunks buffered between the reader goroutine and Poll
	dataQueue = 256
)

// Config holds SSH settings that do not belong to a single endpoint.
type Config struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"`
	TermWidth      int           `mapstructure:"term_width"`
	TermHeight     int           `mapstructure:"term_height"`
}

// Transport is a terminal.Transport over an SSH shell channel.
type Transport struct {
	config Config

	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	data    chan []byte
	done    chan struct{}
	quit    chan struct{}
	closed  bool
	stop    context.CancelFunc
}

// NewTransport returns an unopened transport.
func NewTransport(cfg Config) *Transport {
	if cfg.TermWidth <= 0 {
		cfg.TermWidth = 511
	}
	if cfg.TermHeight <= 0 {
		cfg.TermHeight = 24
	}
	return &Transport{config: cfg}
}

func (t *Transport) clientConfig(ep terminal.Endpoint) (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if t.config.KnownHostsFile != "" {
		cb, err := knownhosts.New(t.config.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	cfg := &ssh.ClientConfig{
		User:            ep.User,
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.config.Timeout,
		Config: ssh.Config{
			// appliances running old images only offer legacy algorithms
			KeyExchanges: []string{
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
			},
			Ciphers: []string{
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-cbc",
				"aes192-cbc",
				"aes256-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		HostKeyAlgorithms: []string{
			"ssh-rsa",
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"ssh-ed25519",
		},
	}

	if t.config.KeyFile != "" {
		pem, err := os.ReadFile(t.config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if ep.Password != "" {
		password := ep.Password
		cfg.Auth = append(cfg.Auth,
			ssh.Password(password),
			// ASA AAA setups often ask through keyboard-interactive
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}
	return cfg, nil
}

// Open dials ep, authenticates and starts a shell on a PTY. ctx bounds the
// dial and handshake.
func (t *Transport) Open(ctx context.Context, ep terminal.Endpoint) error {
	port := ep.Port
	if port == 0 {
		port = defaultPort
	}
	address := net.JoinHostPort(ep.Host, strconv.Itoa(port))

	cfg, err := t.clientConfig(ep)
	if err != nil {
		return terminal.NewConnectError(terminal.ConnectGeneric, ep.Host, err)
	}

	dialer := &net.Dialer{Timeout: t.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return classify(ep.Host, fmt.Errorf("failed to dial: %w", err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg)
	if err != nil {
		conn.Close()
		return classify(ep.Host, fmt.Errorf("failed to create SSH connection: %w", err))
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, stdin, stdout, err := t.startShell(client)
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		client.Close()
		return classify(ep.Host, err)
	}

	keepAliveCtx, stop := context.WithCancel(context.Background())

	t.mu.Lock()
	t.client = client
	t.session = session
	t.stdin = stdin
	t.data = make(chan []byte, dataQueue)
	t.done = make(chan struct{})
	t.quit = make(chan struct{})
	t.closed = false
	t.stop = stop
	data, done, quit := t.data, t.done, t.quit
	t.mu.Unlock()

	go t.read(stdout, data, done, quit)
	go t.keepAlive(keepAliveCtx, client)

	logger.WithField("host", ep.Host).Debugf("ssh shell opened on %s", address)
	return nil
}

func (t *Transport) startShell(client *ssh.Client) (*ssh.Session, io.WriteCloser, io.Reader, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, t.config.TermHeight, t.config.TermWidth, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, nil, nil, fmt.Errorf("failed to start shell: %w", err)
	}
	return session, stdin, stdout, nil
}

// read forwards shell output to data until the channel ends.
func (t *Transport) read(stdout io.Reader, data chan<- []byte, done chan<- struct{}, quit <-chan struct{}) {
	defer close(done)
	defer close(data)

	buf := make([]byte, readBufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case data <- chunk:
			case <-quit:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugf("ssh read ended: %v", err)
			}
			return
		}
	}
}

func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	stdin, closed := t.stdin, t.closed
	t.mu.Unlock()
	if stdin == nil || closed {
		return terminal.ErrTransportClosed
	}
	if _, err := stdin.Write(p); err != nil {
		return fmt.Errorf("%w: %v", terminal.ErrTransportClosed, err)
	}
	return nil
}

// Poll waits up to d for output and returns everything queued so far.
func (t *Transport) Poll(d time.Duration) ([]byte, error) {
	t.mu.Lock()
	data := t.data
	t.mu.Unlock()
	if data == nil {
		return nil, terminal.ErrTransportClosed
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var out []byte
	select {
	case chunk, ok := <-data:
		if !ok {
			return nil, terminal.ErrTransportClosed
		}
		out = chunk
	case <-timer.C:
		return nil, nil
	}

	for {
		select {
		case chunk, ok := <-data:
			if !ok {
				return out, nil
			}
			out = append(out, chunk...)
		default:
			return out, nil
		}
	}
}

// Closed reports true once Close ran, or the shell ended and every byte it
// sent has been polled.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.done == nil {
		return true
	}
	select {
	case <-t.done:
		return len(t.data) == 0
	default:
		return false
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.stop != nil {
		t.stop()
	}
	if t.quit != nil {
		close(t.quit)
	}
	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	if t.session != nil {
		_ = t.session.Close()
	}
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		if err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

func (t *Transport) keepAlive(ctx context.Context, client *ssh.Client) {
	if t.config.KeepAlive <= 0 {
		return
	}

	ticker := time.NewTicker(t.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// reply not awaited; some images do not implement the request
			if _, _, err := client.SendRequest("keepalive@openssh.com", false, nil); err != nil {
				logger.Debugf("ssh keepalive failed: %v", err)
				_ = client.Close()
				return
			}
		}
	}
}

// classify maps a dial or handshake error to a connect failure kind.
func classify(host string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return terminal.NewConnectError(terminal.ConnectTimeout, host, err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return terminal.NewConnectError(terminal.ConnectAuth, host, err)
	}
	return terminal.NewConnectError(terminal.ConnectGeneric, host, err)
}

package simulate

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/asaconsole/pkg/logger"
)

// Server serves simulated appliances over SSH. Every shell channel gets a
// fresh Appliance built from the same Profile.
type Server struct {
	profile Profile
	hostKey ssh.Signer

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer loads the host key named by the profile, generating one when the
// file does not exist. With no HostKeyFile the key lives only in memory.
func NewServer(p Profile) (*Server, error) {
	signer, err := loadOrCreateHostKey(p.HostKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to init host key: %w", err)
	}
	return &Server{profile: p, hostKey: signer, conns: make(map[net.Conn]struct{})}, nil
}

func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if path != "" {
		if bs, err := os.ReadFile(path); err == nil {
			signer, err := ssh.ParsePrivateKey(bs)
			if err == nil {
				logger.WithField("file", path).Debug("simulate: host key loaded")
				return signer, nil
			}
			logger.WithField("file", path).Warnf("simulate: host key unreadable, regenerating: %v", err)
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create host key dir: %w", err)
		}
		if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write host key: %w", err)
		}
		logger.WithField("file", path).Info("simulate: host key generated")
	}
	return ssh.ParsePrivateKey(pemBytes)
}

// Start listens on the profile's address and serves connections in the
// background until Close.
func (s *Server) Start() error {
	addr := s.profile.Listen
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.WithField("addr", ln.Addr().String()).Info("simulate: listening")
	go s.serve(ln)
	return nil
}

// Addr is the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting connections, drops the open ones and waits for
// their handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warnf("simulate: accept failed: %v", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}

		s.mu.Lock()
		if s.profile.MaxConn > 0 && len(s.conns) >= s.profile.MaxConn {
			s.mu.Unlock()
			_ = conn.Close()
			logger.WithField("remote", conn.RemoteAddr().String()).Warn("simulate: max_conn exceeded, connection rejected")
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}(conn)
	}
}

func (s *Server) checkPassword(user, password string) bool {
	want, ok := s.profile.Users[strings.ToLower(user)]
	return ok && want == password
}

func (s *Server) handleConn(nc net.Conn) {
	log := logger.WithField("remote", nc.RemoteAddr().String())

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if s.checkPassword(meta.User(), string(password)) {
				return nil, nil
			}
			log.WithField("user", meta.User()).Debug("simulate: password rejected")
			return nil, errors.New("access denied")
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 1 && s.checkPassword(meta.User(), answers[0]) {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(s.hostKey)

	conn, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		log.Debugf("simulate: handshake failed: %v", err)
		_ = nc.Close()
		return
	}
	defer conn.Close()
	log = log.WithField("user", conn.User())
	log.Debug("simulate: handshake ok")

	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			log.Warnf("simulate: channel accept failed: %v", err)
			continue
		}
		go s.handleSession(channel, requests, log)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, log *logrus.Entry) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			s.runShell(channel, log)
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			s.runExec(channel, payload.Command)
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}

// runExec answers a single command from privileged EXEC mode.
func (s *Server) runExec(channel ssh.Channel, cmd string) {
	a := NewAppliance(s.profile)
	a.started = true
	a.mode = modePriv
	reply := a.Respond(cmd+"\n", "")
	out := strings.TrimSuffix(reply.Output, reply.Prompt)
	_, _ = channel.Write([]byte(crlf(out)))
	_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
}

func (s *Server) runShell(channel ssh.Channel, log *logrus.Entry) {
	a := NewAppliance(s.profile)
	first := a.Respond("", "")
	if _, err := channel.Write([]byte(crlf(first.Output))); err != nil {
		return
	}

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(channel)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-done:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debugf("simulate: read ended: %v", err)
				}
				return
			}
		}
	}()

	var idle <-chan time.Time
	var timer *time.Timer
	if s.profile.IdleTimeout > 0 {
		timer = time.NewTimer(s.profile.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-idle:
			_, _ = channel.Write([]byte("\r\nSession closed due to idle timeout.\r\n"))
			log.Debug("simulate: idle timeout")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if timer != nil {
				timer.Reset(s.profile.IdleTimeout)
			}

			secret := a.secretWait
			reply := a.Respond(line, "")

			echo := "\r\n"
			if !secret {
				echo = strings.ReplaceAll(strings.TrimRight(line, "\r\n"), "\x16", "") + "\r\n"
			}
			if _, err := channel.Write([]byte(echo + crlf(reply.Output))); err != nil {
				return
			}
			if reply.Disconnect {
				log.Debug("simulate: session logged off")
				_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				return
			}
		}
	}
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

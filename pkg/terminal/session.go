package terminal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/asaconsole/internal/util"
	"github.com/sshcollectorpro/asaconsole/pkg/logger"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCommandTimeout = 5 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond

	// lines of device output kept at each end of a debug log entry
	debugOutputLines = 5
)

// State is the lifecycle position of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Observer is called after every round trip with the prompt that was current
// before the call, the input actually sent (masked if requested, empty for the
// connect banner) and the output received.
type Observer func(prompt, input, output string)

// Options configures a Session.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	PollInterval   time.Duration
}

// Session drives one interactive console over a Transport.
//
// A Session is not safe for concurrent use. Exactly one command may be in
// flight at a time and observers run on the caller's goroutine.
//
// The transcript is never truncated; long-lived sessions that need bounded
// memory should be recycled by the caller.
type Session struct {
	opts      Options
	transport Transport

	state        State
	prompt       string
	buffer       strings.Builder
	transcript   strings.Builder
	lastActivity time.Time
	observers    []Observer
}

// NewSession validates opts, fills in default timeouts and returns an
// unconnected Session.
func NewSession(opts Options, t Transport) (*Session, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: host", ErrMissingOption)
	}
	if opts.User == "" {
		return nil, fmt.Errorf("%w: user", ErrMissingOption)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: transport", ErrMissingOption)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Session{opts: opts, transport: t}, nil
}

// Connect opens the transport and waits for the first prompt matching ready.
// Observers see the login banner as a round trip with no prompt and no input.
func (s *Session) Connect(ctx context.Context, ready *regexp.Regexp) error {
	if s.Connected() {
		return nil
	}

	s.state = Connecting
	s.prompt = ""
	s.buffer.Reset()

	openCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	log := logger.WithFields(logrus.Fields{"host": s.opts.Host, "user": s.opts.User})
	log.Debug("opening console session")

	if err := s.transport.Open(openCtx, s.endpoint()); err != nil {
		s.state = Disconnected
		return s.connectError(err)
	}
	s.state = Connected

	output, ok := s.expect(ready)
	s.notify("", "", output)
	if !ok {
		_ = s.transport.Close()
		s.state = Disconnected
		log.Warn("no EXEC prompt after login")
		return NewConnectError(ConnectGeneric, s.opts.Host, errors.New("failed to parse EXEC prompt"))
	}

	log.WithField("prompt", s.prompt).Debug("console session ready")
	return nil
}

func (s *Session) connectError(err error) error {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewConnectError(ConnectTimeout, s.opts.Host, err)
	}
	return NewConnectError(ConnectGeneric, s.opts.Host, err)
}

// Send writes line and waits for expect. The returned output has the echoed
// input line and the matched prompt removed. ok is false when the prompt did
// not arrive before the command timeout or the transport closed first.
//
// With mask set, observers and logs see asterisks instead of line.
func (s *Session) Send(line string, expect *regexp.Regexp, mask bool) (string, bool) {
	last := s.prompt

	if s.Connected() {
		if err := s.transport.Write([]byte(line + "\n")); err != nil {
			logger.WithField("host", s.opts.Host).Debugf("write failed: %v", err)
			s.state = Disconnected
		}
	}

	input := line
	if mask {
		input = strings.Repeat("*", utf8.RuneCountInString(line))
	}
	input += "\n"

	output, ok := s.expect(expect)
	output = stripEcho(output)
	s.notify(last, input, output)

	logger.DebugCommandOutput(strings.TrimSuffix(input, "\n"), output, debugOutputLines)
	if !ok {
		logger.WithFields(logrus.Fields{
			"host":    s.opts.Host,
			"command": strings.TrimSuffix(input, "\n"),
			"pattern": expect.String(),
		}).Debug("expected prompt not found")
	}
	return output, ok
}

// expect polls the transport until pattern matches the normalized buffer, the
// command timeout passes without new data, or the transport closes.
func (s *Session) expect(pattern *regexp.Regexp) (string, bool) {
	s.lastActivity = time.Now()

	for !pattern.MatchString(ApplyControlChars(s.buffer.String())) {
		if s.state != Connected {
			break
		}
		data, err := s.transport.Poll(s.opts.PollInterval)
		if len(data) > 0 {
			s.buffer.Write(data)
			s.transcript.Write(data)
			s.lastActivity = time.Now()
		}
		if err != nil {
			s.state = Disconnected
			break
		}
		if len(data) == 0 && time.Since(s.lastActivity) > s.opts.CommandTimeout {
			break
		}
	}

	text := ApplyControlChars(s.buffer.String())
	s.buffer.Reset()

	loc := pattern.FindStringIndex(text)
	if loc == nil {
		s.prompt = ""
		return util.EnsureUTF8(text), false
	}
	s.prompt = text[loc[0]:loc[1]]
	return util.EnsureUTF8(text[:loc[0]] + text[loc[1]:]), true
}

// stripEcho drops the first line, which is the console echoing our input.
// Output without a line break is returned as is.
func stripEcho(output string) string {
	idx := strings.IndexByte(output, '\n')
	if idx < 0 {
		return output
	}
	return output[idx+1:]
}

func (s *Session) notify(prompt, input, output string) {
	for _, fn := range s.observers {
		fn(prompt, input, output)
	}
}

// Disconnect closes the transport. A transport the peer already closed is
// not an error.
func (s *Session) Disconnect() error {
	wasConnected := s.Connected()
	s.state = Disconnected
	s.prompt = ""
	if !wasConnected {
		_ = s.transport.Close()
		return nil
	}
	if err := s.transport.Close(); err != nil && !errors.Is(err, ErrTransportClosed) {
		return fmt.Errorf("close transport: %w", err)
	}
	logger.WithField("host", s.opts.Host).Debug("console session closed")
	return nil
}

// Connected reports whether the session is open. A transport closed by the
// peer moves the session to Disconnected.
func (s *Session) Connected() bool {
	if s.state == Connected && s.transport.Closed() {
		s.state = Disconnected
	}
	return s.state == Connected
}

func (s *Session) State() State {
	s.Connected()
	return s.state
}

// OnOutput registers fn; observers run in registration order.
func (s *Session) OnOutput(fn Observer) {
	if fn != nil {
		s.observers = append(s.observers, fn)
	}
}

// Prompt is the most recently matched prompt, or "" if none matched.
func (s *Session) Prompt() string { return s.prompt }

// Transcript is everything received since the session was created, normalized.
func (s *Session) Transcript() string {
	return util.EnsureUTF8(ApplyControlChars(s.transcript.String()))
}

func (s *Session) LastActivity() time.Time { return s.lastActivity }

func (s *Session) Host() string                  { return s.opts.Host }
func (s *Session) SetHost(host string)           { s.opts.Host = host }
func (s *Session) User() string                  { return s.opts.User }
func (s *Session) Password() string              { return s.opts.Password }
func (s *Session) SetPassword(password string)   { s.opts.Password = password }
func (s *Session) ConnectTimeout() time.Duration { return s.opts.ConnectTimeout }
func (s *Session) CommandTimeout() time.Duration { return s.opts.CommandTimeout }

func (s *Session) SetConnectTimeout(d time.Duration) {
	if d > 0 {
		s.opts.ConnectTimeout = d
	}
}

func (s *Session) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		s.opts.CommandTimeout = d
	}
}

func (s *Session) endpoint() Endpoint {
	return Endpoint{Host: s.opts.Host, Port: s.opts.Port, User: s.opts.User, Password: s.opts.Password}
}

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

// Target is one remote host with its shared root credential.
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
}

func (t Target) addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Output is the captured result of one script run. Stderr is diagnostic
// only; success and failure are decided by stdout markers.
type Output struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// outcome is what a session settles into, exactly once.
type outcome struct {
	out *Output
	err error
}

// settleOnce delivers exactly one outcome. The first settle wins; later
// settles are discarded. wait blocks until the winner is delivered.
type settleOnce struct {
	once sync.Once
	ch   chan outcome
}

func newSettleOnce() *settleOnce {
	return &settleOnce{ch: make(chan outcome, 1)}
}

func (s *settleOnce) settle(o outcome) bool {
	won := false
	s.once.Do(func() {
		s.ch <- o
		won = true
	})
	return won
}

func (s *settleOnce) wait() outcome {
	return <-s.ch
}

// SSHExecutor opens one password-authenticated session per call. No pooling
// and no keepalive: every call dials, runs its script, and tears down.
// Sessions against the same host are serialized; concurrent scripts editing
// the same config file would corrupt it.
type SSHExecutor struct {
	connectTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSSHExecutor builds an executor with the given TCP connect timeout.
func NewSSHExecutor(connectTimeout time.Duration) *SSHExecutor {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &SSHExecutor{
		connectTimeout: connectTimeout,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (e *SSHExecutor) lockFor(host string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[host]
	if !ok {
		l = &sync.Mutex{}
		e.locks[host] = l
	}
	return l
}

// guardedConn hands the watchdog a handle it can slam shut. Closing the raw
// connection unblocks the session goroutine wherever it is stuck, handshake
// included.
type guardedConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (g *guardedConn) set(c net.Conn) {
	g.mu.Lock()
	g.conn = c
	g.mu.Unlock()
}

func (g *guardedConn) close() {
	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
	}
	g.mu.Unlock()
}

// Run executes one script in one fresh session. The timeout is a global
// watchdog over the whole call: dial, handshake, and script runtime. The
// first of completion and watchdog settles the call; the loser is discarded.
func (e *SSHExecutor) Run(ctx context.Context, t Target, script string, timeout time.Duration) (*Output, error) {
	lock := e.lockFor(t.Host)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()
	settled := newSettleOnce()
	guard := &guardedConn{}

	go e.session(ctx, t, script, started, timeout, settled, guard)

	watchdog := time.NewTimer(timeout)
	defer watchdog.Stop()

	select {
	case <-watchdog.C:
		if settled.settle(outcome{nil, fmt.Errorf("script on %s after %s: %w", t.Host, timeout, ErrTimeout)}) {
			guard.close()
		}
	case <-ctx.Done():
		if settled.settle(outcome{nil, fmt.Errorf("script on %s: %w", t.Host, ctx.Err())}) {
			guard.close()
		}
	case o := <-settled.ch:
		// completion won; re-deliver for the common wait below
		settled.ch <- o
	}

	o := settled.wait()
	return o.out, o.err
}

func (e *SSHExecutor) session(ctx context.Context, t Target, script string, started time.Time, timeout time.Duration, settled *settleOnce, guard *guardedConn) {
	Progress(ctx, models.OpStatusConnecting)

	conn, err := net.DialTimeout("tcp", t.addr(), e.connectTimeout)
	if err != nil {
		settled.settle(outcome{nil, classifyDialError(t.Host, err)})
		return
	}
	guard.set(conn)
	defer conn.Close()

	// Transport-level backstop behind the watchdog. The margin keeps the
	// watchdog authoritative for timeout classification; the deadline only
	// catches a session the watchdog path could not tear down.
	conn.SetDeadline(started.Add(timeout + 2*time.Second))

	cfg := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{ssh.Password(t.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.connectTimeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.addr(), cfg)
	if err != nil {
		settled.settle(outcome{nil, classifyDialError(t.Host, err)})
		return
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		settled.settle(outcome{nil, fmt.Errorf("open session on %s: %w", t.Host, ErrConnectFailed)})
		return
	}
	defer session.Close()

	Progress(ctx, models.OpStatusExecuting)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(script)
	out := &Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if out.Stderr != "" {
		log.Printf("[Executor] stderr from %s: %s", t.Host, truncate(out.Stderr, 500))
	}

	if err != nil {
		// A non-zero exit still carries marker output; the parser decides.
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			settled.settle(outcome{out, nil})
			return
		}
		settled.settle(outcome{nil, fmt.Errorf("run script on %s: %v: %w", t.Host, err, ErrConnectFailed)})
		return
	}
	settled.settle(outcome{out, nil})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

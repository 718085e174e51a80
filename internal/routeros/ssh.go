package routeros

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Compile-time interface guard.
var _ Session = (*SSHSession)(nil)

const defaultConnectTimeout = 10 * time.Second

// Output prefixes the RouterOS CLI uses to reject a command.
var cliFailures = []string{
	"failure:",
	"syntax error",
	"expected end of command",
	"bad command name",
	"input does not match any value",
	"invalid value",
	"ambiguous value",
}

// SSHSession drives the RouterOS CLI over one SSH connection. Each call
// runs a single command on a new channel of the shared connection.
type SSHSession struct {
	mu        sync.Mutex
	client    *ssh.Client
	connected atomic.Bool
	logger    *zap.Logger

	// dial establishes SSH connections. Defaults to dialContext;
	// overridden in tests.
	dial func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

	// HostKeyCallback verifies the device host key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
}

// NewSSHSession returns an unconnected session.
func NewSSHSession(logger *zap.Logger) *SSHSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSHSession{logger: logger, dial: dialContext}
}

// SSHDialer returns a Dialer producing SSH sessions.
func SSHDialer(logger *zap.Logger, hostKey ssh.HostKeyCallback) Dialer {
	return DialerFunc(func() Session {
		s := NewSSHSession(logger)
		s.HostKeyCallback = hostKey
		return s
	})
}

// Connect opens the SSH connection. A session that is already connected is
// closed first.
func (s *SSHSession) Connect(ctx context.Context, t Target) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	hostKey := s.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: devices ship self-generated host keys
	}
	cfg := &ssh.ClientConfig{
		User: t.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(t.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = t.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := s.dial(dialCtx, t.Addr(), cfg)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrNotConnected, t.Addr(), err)
	}

	s.mu.Lock()
	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = client
	s.connected.Store(true)
	s.mu.Unlock()

	go func() {
		_ = client.Wait()
		s.mu.Lock()
		if s.client == client {
			s.connected.Store(false)
		}
		s.mu.Unlock()
	}()

	s.logger.Debug("ssh session established", zap.String("addr", t.Addr()))
	return nil
}

// Connected reports whether the transport is still up.
func (s *SSHSession) Connected() bool {
	return s.connected.Load()
}

// Close tears down the connection. Safe to call repeatedly.
func (s *SSHSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected.Store(false)
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close ssh session: %w", err)
	}
	return nil
}

// run executes one CLI command and returns its output.
func (s *SSHSession) run(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil || !s.connected.Load() {
		return "", ErrNotConnected
	}

	sess, err := client.NewSession()
	if err != nil {
		s.connected.Store(false)
		return "", fmt.Errorf("%w: open channel: %v", ErrNotConnected, err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		_ = sess.Close()
		return "", fmt.Errorf("run %q: %w", cmd, ctx.Err())
	case res = <-done:
	}

	out := string(res.out)
	if res.err != nil {
		var missing *ssh.ExitMissingError
		var exit *ssh.ExitError
		switch {
		case errors.As(res.err, &missing):
			// RouterOS does not always report an exit status.
		case errors.As(res.err, &exit):
			return "", &CommandError{Command: cmd, Output: strings.TrimSpace(out)}
		default:
			s.connected.Store(false)
			return "", fmt.Errorf("%w: run %q: %v", ErrNotConnected, cmd, res.err)
		}
	}

	trimmed := strings.TrimSpace(out)
	lower := strings.ToLower(trimmed)
	for _, prefix := range cliFailures {
		if strings.HasPrefix(lower, prefix) || strings.Contains(lower, "\n"+prefix) {
			return "", &CommandError{Command: cmd, Output: trimmed}
		}
	}
	return out, nil
}

// cliPath converts "/queue/simple" into the CLI menu "/queue simple".
func cliPath(path string) string {
	return "/" + strings.ReplaceAll(strings.Trim(path, "/"), "/", " ")
}

func (s *SSHSession) printTerse(ctx context.Context, path string, extra ...string) ([]Record, error) {
	cmd := cliPath(path) + " print terse without-paging"
	if len(extra) > 0 {
		cmd += " " + strings.Join(extra, " ")
	}
	out, err := s.run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return parseTerse(out), nil
}

// Print runs a terse print of path projected onto fields.
func (s *SSHSession) Print(ctx context.Context, path string, fields ...string) ([]Record, error) {
	var extra []string
	if len(fields) > 0 {
		extra = append(extra, "proplist="+strings.Join(fields, ","))
	}
	return s.printTerse(ctx, path, extra...)
}

// ActiveSessions returns /ppp active.
func (s *SSHSession) ActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	records, err := s.printTerse(ctx, "/ppp/active")
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	out := make([]ActiveSession, 0, len(records))
	for _, r := range records {
		out = append(out, decodeActiveSession(r))
	}
	return out, nil
}

// ARPTable returns /ip arp.
func (s *SSHSession) ARPTable(ctx context.Context) ([]ARPEntry, error) {
	records, err := s.printTerse(ctx, "/ip/arp")
	if err != nil {
		return nil, fmt.Errorf("arp table: %w", err)
	}
	out := make([]ARPEntry, 0, len(records))
	for _, r := range records {
		out = append(out, decodeARP(r))
	}
	return out, nil
}

// Leases returns /ip dhcp-server lease.
func (s *SSHSession) Leases(ctx context.Context) ([]Lease, error) {
	records, err := s.printTerse(ctx, "/ip/dhcp-server/lease")
	if err != nil {
		return nil, fmt.Errorf("dhcp leases: %w", err)
	}
	out := make([]Lease, 0, len(records))
	for _, r := range records {
		out = append(out, decodeLease(r))
	}
	return out, nil
}

// Secrets returns /ppp secret.
func (s *SSHSession) Secrets(ctx context.Context) ([]Secret, error) {
	records, err := s.printTerse(ctx, "/ppp/secret")
	if err != nil {
		return nil, fmt.Errorf("ppp secrets: %w", err)
	}
	out := make([]Secret, 0, len(records))
	for _, r := range records {
		out = append(out, decodeSecret(r))
	}
	return out, nil
}

// Resource returns /system resource.
func (s *SSHSession) Resource(ctx context.Context) (*SystemResource, error) {
	out, err := s.run(ctx, "/system resource print without-paging")
	if err != nil {
		return nil, fmt.Errorf("system resource: %w", err)
	}
	return decodeResource(parseProperties(out)), nil
}

// CreateService adds the PPP secret, or updates it when it already exists.
func (s *SSHSession) CreateService(ctx context.Context, svc ServiceRecord) error {
	return s.upsertSecret(ctx, svc)
}

// UpdateService updates the PPP secret, adding it when missing.
func (s *SSHSession) UpdateService(ctx context.Context, svc ServiceRecord) error {
	return s.upsertSecret(ctx, svc)
}

// SuspendService disables the secret and drops any active session.
func (s *SSHSession) SuspendService(ctx context.Context, svc ServiceRecord) error {
	if err := checkRecord(svc); err != nil {
		return err
	}
	if _, err := s.run(ctx, "/ppp secret disable "+findByName(svc.Username)); err != nil {
		return fmt.Errorf("suspend %s: %w", svc.Username, err)
	}
	if _, err := s.run(ctx, "/ppp active remove "+findByName(svc.Username)); err != nil {
		return fmt.Errorf("disconnect %s: %w", svc.Username, err)
	}
	return nil
}

// RestoreService re-enables the secret.
func (s *SSHSession) RestoreService(ctx context.Context, svc ServiceRecord) error {
	if err := checkRecord(svc); err != nil {
		return err
	}
	if _, err := s.run(ctx, "/ppp secret enable "+findByName(svc.Username)); err != nil {
		return fmt.Errorf("restore %s: %w", svc.Username, err)
	}
	return nil
}

// DeleteService drops any active session and removes the secret.
func (s *SSHSession) DeleteService(ctx context.Context, svc ServiceRecord) error {
	if err := checkRecord(svc); err != nil {
		return err
	}
	if _, err := s.run(ctx, "/ppp active remove "+findByName(svc.Username)); err != nil {
		return fmt.Errorf("disconnect %s: %w", svc.Username, err)
	}
	if _, err := s.run(ctx, "/ppp secret remove "+findByName(svc.Username)); err != nil {
		return fmt.Errorf("delete %s: %w", svc.Username, err)
	}
	return nil
}

func (s *SSHSession) upsertSecret(ctx context.Context, svc ServiceRecord) error {
	if err := checkRecord(svc); err != nil {
		return err
	}
	existing, err := s.printTerse(ctx, "/ppp/secret", "where name="+quote(svc.Username))
	if err != nil {
		return fmt.Errorf("lookup secret %s: %w", svc.Username, err)
	}
	cmd := "/ppp secret add " + secretArgs(svc, true)
	if len(existing) > 0 {
		cmd = "/ppp secret set " + findByName(svc.Username) + " " + secretArgs(svc, false)
	}
	if _, err := s.run(ctx, cmd); err != nil {
		return fmt.Errorf("write secret %s: %w", svc.Username, err)
	}
	return nil
}

// checkRecord rejects records that cannot be rendered safely. Queued
// operations replay through here too, so a bad record stored before
// validation existed fails instead of reaching the device.
func checkRecord(svc ServiceRecord) error {
	if strings.TrimSpace(svc.Username) == "" {
		return errors.New("routeros: service record has no username")
	}
	return svc.Validate()
}

func findByName(name string) string {
	return "[find name=" + quote(name) + "]"
}

// secretArgs renders the secret properties. On add the name and service are
// included; on set only the properties carried by svc are changed.
func secretArgs(svc ServiceRecord, add bool) string {
	var args []string
	if add {
		service := svc.Service
		if service == "" {
			service = "pppoe"
		}
		// service is one of ServiceTypes, checked by checkRecord.
		args = append(args, "name="+quote(svc.Username), "service="+service)
	}
	if svc.Password != "" {
		args = append(args, "password="+quote(svc.Password))
	}
	if svc.Profile != "" {
		args = append(args, "profile="+quote(svc.Profile))
	}
	if svc.RemoteAddress != "" {
		args = append(args, "remote-address="+quote(svc.RemoteAddress))
	}
	if svc.Comment != "" {
		args = append(args, "comment="+quote(svc.Comment))
	}
	disabled := "no"
	if svc.Disabled {
		disabled = "yes"
	}
	args = append(args, "disabled="+disabled)
	return strings.Join(args, " ")
}

// dialContext is ssh.Dial with context cancellation for the TCP connect
// and handshake.
func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

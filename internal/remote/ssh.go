package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/temple-compute/horus/internal/secrets"
	"github.com/temple-compute/horus/pkg/schema"
)

const (
	defaultSSHPort     = 22
	defaultDialTimeout = 10 * time.Second
)

// SSHDialer is the production Dialer. Private keys come from the identity
// file on disk or from the vault via secret_ref.
type SSHDialer struct {
	vault           secrets.Vault
	hostKeyCallback ssh.HostKeyCallback
}

// NewSSHDialer creates a Dialer authenticating with private keys. The vault
// is optional; without it only identity files are supported.
func NewSSHDialer(vault secrets.Vault) *SSHDialer {
	return &SSHDialer{
		vault: vault,
		// Host key pinning is a config concern; targets are operator-defined.
		hostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
}

// Dial establishes an SSH connection to the configured remote.
func (d *SSHDialer) Dial(ctx context.Context, cfg Config) (Client, error) {
	signer, err := d.loadSigner(ctx, cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port <= 0 {
		port = defaultSSHPort
	}
	timeout := defaultDialTimeout
	if cfg.DialTimeout != "" {
		if d, err := time.ParseDuration(cfg.DialTimeout); err == nil && d > 0 {
			timeout = d
		}
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnection, "dial %s: %v", addr, err).
			WithCause(err).
			WithDetails(map[string]any{"remote": cfg.Name, "addr": addr})
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, authFailureError(cfg.Name, err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeConnection, "ssh handshake with %s: %v", addr, err).
			WithCause(err).
			WithDetails(map[string]any{"remote": cfg.Name, "addr": addr})
	}

	return &sshClient{
		remote: cfg.Name,
		conn:   ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

func (d *SSHDialer) loadSigner(ctx context.Context, cfg Config) (ssh.Signer, error) {
	var keyBytes []byte
	switch {
	case cfg.IdentityFile != "":
		b, err := os.ReadFile(cfg.IdentityFile)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConnection, "read identity file %s: %v", cfg.IdentityFile, err).
				WithCause(err)
		}
		keyBytes = b
	case cfg.SecretRef != "":
		if d.vault == nil {
			return nil, schema.NewErrorf(schema.ErrCodeConnection,
				"remote %q uses secret_ref %q but no vault is configured", cfg.Name, cfg.SecretRef)
		}
		b, err := d.vault.Resolve(ctx, cfg.SecretRef)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConnection,
				"resolve secret_ref %q for remote %q: %v", cfg.SecretRef, cfg.Name, err).WithCause(err)
		}
		keyBytes = b
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConnection,
			"remote %q has neither identity_file nor secret_ref", cfg.Name)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, authFailureError(cfg.Name, err)
	}
	return signer, nil
}

// sshClient wraps one SSH connection plus a lazily opened SFTP subsystem.
// SFTP transfers are serialized per connection with transferMu.
type sshClient struct {
	remote string
	conn   *ssh.Client

	transferMu sync.Mutex
	sftpClient *sftp.Client
}

func (c *sshClient) Start(ctx context.Context, dir, command string, env map[string]string) (Process, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnection, "open session on %q: %v", c.remote, err).WithCause(err)
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	// Env goes on the command line; SSH servers rarely AcceptEnv arbitrary
	// names.
	line := buildCommandLine(dir, command, env)
	if err := session.Start(line); err != nil {
		session.Close()
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "start command on %q: %v", c.remote, err).WithCause(err)
	}

	p := &sshProcess{
		session: session,
		stdout:  &stdout,
		stderr:  &stderr,
		done:    make(chan struct{}),
	}
	go p.wait(ctx)
	return p, nil
}

func (c *sshClient) sftpConn() (*sftp.Client, error) {
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}
	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTransfer, "open sftp on %q: %v", c.remote, err).WithCause(err)
	}
	c.sftpClient = client
	return client, nil
}

func (c *sshClient) Upload(ctx context.Context, localPath, remotePath string) error {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	local, err := os.Open(localPath)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "open local file %s: %v", localPath, err).WithCause(err)
	}
	defer local.Close()

	return c.copyToRemote(local, remotePath)
}

func (c *sshClient) UploadBytes(ctx context.Context, data []byte, remotePath string) error {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()
	return c.copyToRemote(bytes.NewReader(data), remotePath)
}

func (c *sshClient) copyToRemote(src io.Reader, remotePath string) error {
	client, err := c.sftpConn()
	if err != nil {
		return err
	}
	remote, err := client.Create(remotePath)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "create remote file %s: %v", remotePath, err).WithCause(err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, src); err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "write remote file %s: %v", remotePath, err).WithCause(err)
	}
	return nil
}

func (c *sshClient) Download(ctx context.Context, remotePath, localPath string) error {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	client, err := c.sftpConn()
	if err != nil {
		return err
	}
	remote, err := client.Open(remotePath)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "open remote file %s: %v", remotePath, err).WithCause(err)
	}
	defer remote.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "create local file %s: %v", localPath, err).WithCause(err)
	}
	defer local.Close()

	if _, err := io.Copy(local, remote); err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "read remote file %s: %v", remotePath, err).WithCause(err)
	}
	return nil
}

func (c *sshClient) MkdirAll(ctx context.Context, path string) error {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	client, err := c.sftpConn()
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path); err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "mkdir %s on %q: %v", path, c.remote, err).WithCause(err)
	}
	return nil
}

func (c *sshClient) RemoveAll(ctx context.Context, path string) error {
	c.transferMu.Lock()
	defer c.transferMu.Unlock()

	client, err := c.sftpConn()
	if err != nil {
		return err
	}
	if err := client.RemoveAll(path); err != nil {
		return schema.NewErrorf(schema.ErrCodeTransfer, "remove %s on %q: %v", path, c.remote, err).WithCause(err)
	}
	return nil
}

func (c *sshClient) Close() error {
	c.transferMu.Lock()
	if c.sftpClient != nil {
		c.sftpClient.Close()
		c.sftpClient = nil
	}
	c.transferMu.Unlock()
	return c.conn.Close()
}

// sshProcess tracks one remote command until it exits.
type sshProcess struct {
	session *ssh.Session
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer

	done   chan struct{}
	result *Result
	err    error
}

func (p *sshProcess) wait(ctx context.Context) {
	defer close(p.done)
	defer p.session.Close()

	err := p.session.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
		} else {
			p.err = schema.NewErrorf(schema.ErrCodeExecution, "remote command: %v", err).WithCause(err)
			return
		}
	}
	p.result = &Result{
		ExitCode: exitCode,
		Stdout:   p.stdout.String(),
		Stderr:   p.stderr.String(),
	}
}

func (p *sshProcess) Wait() (*Result, error) {
	<-p.done
	return p.result, p.err
}

func (p *sshProcess) Kill() error {
	_ = p.session.Signal(ssh.SIGKILL)
	return p.session.Close()
}

// buildCommandLine encodes the working directory and environment into a
// single shell command line.
func buildCommandLine(dir, command string, env map[string]string) string {
	var sb strings.Builder
	if dir != "" {
		sb.WriteString("cd ")
		sb.WriteString(shellQuote(dir))
		sb.WriteString(" && ")
	}
	for _, k := range sortedEnvKeys(env) {
		sb.WriteString("export ")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(shellQuote(env[k]))
		sb.WriteString(" && ")
	}
	sb.WriteString(command)
	return sb.String()
}

func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

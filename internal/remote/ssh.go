// Package remote runs commands on a miner host over SSH using the
// session's ephemeral private key.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const defaultTimeout = 15 * time.Second

type SSHOptions struct {
	User       string
	Port       int
	PrivateKey []byte
	Timeout    time.Duration
}

// Client is one SSH connection to a miner host.
type Client struct {
	target string
	ssh    *ssh.Client
}

// Dial connects to host and authenticates with opts.PrivateKey.
//
// Host keys are not pinned: the miner hands out a fresh host and port per
// session, and the connection only ever carries credentials that are
// revoked when the session ends.
func Dial(ctx context.Context, host string, opts SSHOptions) (*Client, error) {
	if strings.TrimSpace(host) == "" {
		return nil, errors.New("ssh dial: host is required")
	}
	if strings.TrimSpace(opts.User) == "" {
		return nil, errors.New("ssh dial: user is required")
	}
	signer, err := ssh.ParsePrivateKey(opts.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("ssh dial: parse private key: %w", err)
	}

	port := opts.Port
	if port <= 0 {
		port = 22
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	target := opts.User + "@" + addr

	cfg := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: %w", target, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh %s: %w", target, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{target: target, ssh: ssh.NewClient(c, chans, reqs)}, nil
}

// Target is user@host:port.
func (c *Client) Target() string {
	return c.target
}

func (c *Client) RunScript(ctx context.Context, script string) error {
	_, err := c.RunScriptOutput(ctx, script)
	return err
}

// RunScriptOutput feeds script to `sh -s` and returns its trimmed combined
// output. Cancelling ctx kills the remote command.
func (c *Client) RunScriptOutput(ctx context.Context, script string) (string, error) {
	sess, err := c.ssh.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh %s: open session: %w", c.target, err)
	}
	defer sess.Close()
	sess.Stdin = strings.NewReader(script)

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput("sh -s")
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		return "", fmt.Errorf("ssh %s: %w", c.target, ctx.Err())
	}

	output := strings.TrimSpace(string(res.out))
	if res.err != nil {
		if output == "" {
			return "", fmt.Errorf("ssh %s failed: %w", c.target, res.err)
		}
		return "", fmt.Errorf("ssh %s failed: %w: %s", c.target, res.err, output)
	}
	return output, nil
}

// DialUnix opens a stream to a unix socket on the remote host.
func (c *Client) DialUnix(ctx context.Context, path string) (net.Conn, error) {
	conn, err := c.ssh.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("ssh %s: forward %s: %w", c.target, path, err)
	}
	return conn, nil
}

func (c *Client) Close() error {
	return c.ssh.Close()
}

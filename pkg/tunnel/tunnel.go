// Package tunnel dials SSH local-forwards for connection testing against
// databases that are only reachable through a bastion host.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
)

const dialTimeout = 10 * time.Second

// Spec describes the SSH hop and the target behind it.
type Spec struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`

	// Exactly one of Password or PrivateKeyPEM must be set.
	Password      string `json:"password,omitempty"`
	PrivateKeyPEM string `json:"private_key_pem,omitempty"`
	Passphrase    string `json:"passphrase,omitempty"`

	// Fingerprint pins the server host key (SHA256 form, as printed by
	// ssh-keygen -lf). Empty accepts any host key.
	Fingerprint string `json:"fingerprint,omitempty"`

	// TargetHost and TargetPort are the database address as seen from the
	// SSH server.
	TargetHost string `json:"target_host"`
	TargetPort int    `json:"target_port"`
}

// Validate checks the spec before any network activity.
func (s *Spec) Validate() error {
	switch {
	case s.Host == "":
		return apperrors.New(apperrors.KindValidation, "tunnel host is required")
	case s.User == "":
		return apperrors.New(apperrors.KindValidation, "tunnel user is required")
	case s.Password == "" && s.PrivateKeyPEM == "":
		return apperrors.New(apperrors.KindValidation, "tunnel requires a password or private key")
	case s.Password != "" && s.PrivateKeyPEM != "":
		return apperrors.New(apperrors.KindValidation, "tunnel accepts a password or a private key, not both")
	case s.TargetHost == "":
		return apperrors.New(apperrors.KindValidation, "tunnel target host is required")
	case s.TargetPort <= 0 || s.TargetPort > 65535:
		return apperrors.New(apperrors.KindValidation, "tunnel target port is invalid")
	}
	if s.Port <= 0 {
		s.Port = 22
	}
	return nil
}

func (s *Spec) authMethods() ([]ssh.AuthMethod, error) {
	if s.Password != "" {
		return []ssh.AuthMethod{ssh.Password(s.Password)}, nil
	}
	var (
		signer ssh.Signer
		err    error
	)
	if s.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(s.PrivateKeyPEM), []byte(s.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(s.PrivateKeyPEM))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "invalid tunnel private key", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (s *Spec) hostKeyCallback() ssh.HostKeyCallback {
	if s.Fingerprint == "" {
		return ssh.InsecureIgnoreHostKey()
	}
	want := s.Fingerprint
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if got := ssh.FingerprintSHA256(key); got != want {
			return fmt.Errorf("host key mismatch for %s: got %s", hostname, got)
		}
		return nil
	}
}

// Tunnel is an open local-forward. Connections accepted on Addr are piped
// to the target through the SSH client until Close.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	target   string

	closeOnce sync.Once
	done      chan struct{}
	conns     sync.WaitGroup
}

// Forward dials the SSH server and starts forwarding from an ephemeral
// local listener.
func Forward(ctx context.Context, spec *Spec) (*Tunnel, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	auth, err := spec.authMethods()
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            spec.User,
		Auth:            auth,
		HostKeyCallback: spec.hostKeyCallback(),
		Timeout:         dialTimeout,
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", spec.Host, spec.Port))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTestFailed, "dial ssh server", err)
	}
	conn, chans, reqs, err := ssh.NewClientConn(raw, raw.RemoteAddr().String(), sshCfg)
	if err != nil {
		raw.Close()
		return nil, apperrors.Wrap(apperrors.KindTestFailed, "ssh handshake", err)
	}
	client := ssh.NewClient(conn, chans, reqs)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, apperrors.Wrap(apperrors.KindInternal, "open local listener", err)
	}

	t := &Tunnel{
		client:   client,
		listener: listener,
		target:   fmt.Sprintf("%s:%d", spec.TargetHost, spec.TargetPort),
		done:     make(chan struct{}),
	}
	go t.accept()
	return t, nil
}

// Addr is the local listener address to point the database driver at.
func (t *Tunnel) Addr() (host string, port int) {
	addr := t.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (t *Tunnel) accept() {
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
			default:
				// Listener failed outside Close; nothing to recover.
			}
			return
		}
		t.conns.Add(1)
		go t.pipe(local)
	}
}

func (t *Tunnel) pipe(local net.Conn) {
	defer t.conns.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.target)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() { copyConn(remote, local); done <- struct{}{} }()
	go func() { copyConn(local, remote); done <- struct{}{} }()
	select {
	case <-done:
	case <-t.done:
	}
}

func copyConn(dst, src net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Close tears down the listener and the SSH client. Safe to call twice.
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.listener.Close()
		err = t.client.Close()
		t.conns.Wait()
	})
	return err
}

package pollsync

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/alexhunt7/ssher"
	"github.com/b1naryth1ef/pollsync/transport"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshHandshakeTimeout = 30 * time.Second

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(knownHostsFile)
}

// sshClientConfig builds the client config and the address to dial. With
// UseSSHConfig the host is looked up as an ssh_config alias first, so port,
// hostname and identity files come from there.
func sshClientConfig(creds Credentials) (*ssh.ClientConfig, string, error) {
	passwordAuth := []ssh.AuthMethod{
		ssh.Password(creds.Secret),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = creds.Secret
			}
			return answers, nil
		}),
	}

	callback, err := hostKeyCallback(creds.KnownHostsFile)
	if err != nil {
		return nil, "", fmt.Errorf("load known hosts: %w", err)
	}

	if creds.UseSSHConfig {
		sshConfig, hostPort, err := ssher.ClientConfig(creds.Host, "")
		if err != nil {
			return nil, "", fmt.Errorf("resolve ssh config for %s: %w", creds.Host, err)
		}
		sshConfig.User = creds.User
		sshConfig.Auth = append(passwordAuth, sshConfig.Auth...)
		sshConfig.HostKeyCallback = callback
		if sshConfig.Timeout == 0 {
			sshConfig.Timeout = sshHandshakeTimeout
		}
		return sshConfig, hostPort, nil
	}

	return &ssh.ClientConfig{
		User:            creds.User,
		Auth:            passwordAuth,
		HostKeyCallback: callback,
		Timeout:         sshHandshakeTimeout,
	}, creds.address(), nil
}

// OpenSSH dials and authenticates an SSH connection. The dial honours ctx.
func OpenSSH(ctx context.Context, creds Credentials) (*ssh.Client, error) {
	sshConfig, hostPort, err := sshClientConfig(creds)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, err
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, hostPort, sshConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Dial opens a session on remoteDirectory using the protocol in creds. The
// caller owns the returned transport and must Close it.
func Dial(ctx context.Context, creds Credentials, remoteDirectory string) (transport.Transport, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	if creds.Protocol == ProtocolHTTP {
		return transport.NewHTTPTransport("http://"+creds.address(), remoteDirectory, creds.User, creds.Secret), nil
	}

	sshClient, err := OpenSSH(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh %s: %w", ErrSession, creds.Host, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("%w: sftp %s: %w", ErrSession, creds.Host, err)
	}

	return transport.NewSFTPTransport(sftpClient, remoteDirectory, sshClient), nil
}

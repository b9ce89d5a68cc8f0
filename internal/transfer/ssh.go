package transfer

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// CheckSSH probes whether an SSH server answers at host:port. It attempts a
// handshake with no credentials; an authentication refusal still proves the
// host is reachable and speaking SSH, so it counts as success.
func CheckSSH(ctx context.Context, host string, port int, user string, timeout time.Duration) error {
	if port <= 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	cfg := &ssh.ClientConfig{
		User: user,
		// The probe only verifies reachability; rsync rides the system ssh
		// with its own host key handling.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         timeout,
	}

	sconn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil
		}
		return fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	ssh.NewClient(sconn, chans, reqs).Close()
	return nil
}

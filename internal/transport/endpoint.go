package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// FileDialer opens a serial device node (or any file-like endpoint) for
// each connection attempt.
func FileDialer(path string) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		return os.OpenFile(path, os.O_RDWR, 0)
	}
}

// ListenDialer accepts host connections from ln, one at a time. The
// accept poll returns promptly once ctx is cancelled.
func ListenDialer(ln net.Listener) Dialer {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		for {
			if d, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
				_ = d.SetDeadline(time.Now().Add(250 * time.Millisecond))
			}
			conn, err := ln.Accept()
			if err == nil {
				return conn, nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			return nil, err
		}
	}
}

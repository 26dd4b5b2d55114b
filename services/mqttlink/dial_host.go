//go:build !rp2040 && !rp2350

package mqttlink

import (
	"context"
	"io"
	"net"
)

func init() {
	Dial = func(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

package relay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// dialEndpoint 按前缀选择传输：unix、vsock，否则为 tcp。
func dialEndpoint(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	switch {
	case strings.HasPrefix(endpoint, "unix://"):
		return d.DialContext(ctx, "unix", strings.TrimPrefix(endpoint, "unix://"))
	case strings.HasPrefix(endpoint, "unix:"):
		return d.DialContext(ctx, "unix", strings.TrimPrefix(endpoint, "unix:"))
	case strings.HasPrefix(endpoint, "vsock://"):
		return dialVsock(ctx, strings.TrimPrefix(endpoint, "vsock://"))
	case strings.HasPrefix(endpoint, "vsock:"):
		return dialVsock(ctx, strings.TrimPrefix(endpoint, "vsock:"))
	default:
		return d.DialContext(ctx, "tcp", endpoint)
	}
}

func parseVsock(target string) (uint32, uint32, error) {
	cidRaw, portRaw, ok := strings.Cut(target, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid vsock endpoint: %s", target)
	}
	cid, err := strconv.ParseUint(cidRaw, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock cid: %w", err)
	}
	port, err := strconv.ParseUint(portRaw, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock port: %w", err)
	}
	return uint32(cid), uint32(port), nil
}

// dialVsock 在 goroutine 中拨号，vsock.Dial 本身不接受 context。
func dialVsock(ctx context.Context, target string) (net.Conn, error) {
	cid, port, err := parseVsock(target)
	if err != nil {
		return nil, err
	}
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := vsock.Dial(cid, port, nil)
		ch <- result{conn: conn, err: err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-ch:
		return res.conn, res.err
	}
}

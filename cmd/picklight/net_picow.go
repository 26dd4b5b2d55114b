//go:build rp2040 && picow

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"picklight-go/services/mqttlink"

	"github.com/soypat/cyw43439"
	"github.com/soypat/lneto/tcp"
	"github.com/soypat/lneto/x/xnet"
)

const (
	mtu        = cyw43439.MTU
	hostname   = "picklight"
	tcpBufSize = 2030 // MTU - ethhdr - iphdr - tcphdr
	pollTime   = 5 * time.Millisecond
)

// Set with -ldflags "-X main.ssid=... -X main.pass=...".
var (
	ssid string
	pass string
)

type picoNet struct {
	dev     *cyw43439.Device
	stack   xnet.StackAsync
	sendbuf []byte
	log     *slog.Logger

	mu   sync.Mutex // one broker connection at a time
	conn tcp.Conn
}

func setupNetwork(ctx context.Context, log *slog.Logger) error {
	if ssid == "" {
		return errors.New("wifi ssid not set at link time")
	}
	n := &picoNet{log: log.With(slog.String("svc", "net")), sendbuf: make([]byte, mtu)}
	if err := n.join(); err != nil {
		return err
	}
	go n.pump(ctx)
	if err := n.dhcp(); err != nil {
		return err
	}
	if err := n.conn.Configure(tcp.ConnConfig{
		RxBuf:             make([]byte, tcpBufSize),
		TxBuf:             make([]byte, tcpBufSize),
		TxPacketQueueSize: 3,
	}); err != nil {
		return errors.New("tcp configure: " + err.Error())
	}
	mqttlink.Dial = n.dial
	return nil
}

func (n *picoNet) join() error {
	start := time.Now()
	n.dev = cyw43439.NewPicoWDevice()
	n.dev.SetLogger(n.log)
	if err := n.dev.Init(cyw43439.DefaultWifiConfig()); err != nil {
		return errors.New("wifi init: " + err.Error())
	}
	for {
		err := n.dev.JoinWPA2(ssid, pass)
		if err == nil {
			break
		}
		n.log.Error("net:join_failed", slog.String("ssid", ssid), slog.String("err", err.Error()))
		time.Sleep(5 * time.Second)
	}
	mac, err := n.dev.HardwareAddr6()
	if err != nil {
		return errors.New("hardware address: " + err.Error())
	}
	n.log.Info("net:joined", slog.String("ssid", ssid), slog.String("mac", net.HardwareAddr(mac[:]).String()))

	err = n.stack.Reset(xnet.StackConfig{
		Hostname:        hostname,
		MaxTCPConns:     1,
		RandSeed:        time.Since(start).Nanoseconds(),
		HardwareAddress: mac,
		MTU:             mtu,
	})
	if err != nil {
		return errors.New("stack reset: " + err.Error())
	}
	n.dev.RecvEthHandle(func(pkt []byte) error {
		return n.stack.Demux(pkt, 0)
	})
	return nil
}

// pump moves packets between the radio and the stack until ctx ends.
func (n *picoNet) pump(ctx context.Context) {
	for ctx.Err() == nil {
		got, err := n.dev.PollOne()
		if err != nil {
			n.log.Debug("net:poll", slog.String("err", err.Error()))
		}
		sent, err := n.stack.Encapsulate(n.sendbuf, -1, 0)
		if err != nil {
			n.log.Debug("net:encapsulate", slog.String("err", err.Error()))
		}
		if sent > 0 {
			if err := n.dev.SendEth(n.sendbuf[:sent]); err != nil {
				n.log.Debug("net:send", slog.String("err", err.Error()))
			}
		}
		if !got && sent == 0 {
			runtime.Gosched()
		}
	}
}

func (n *picoNet) dhcp() error {
	rstack := n.stack.StackRetrying(50 * time.Millisecond)
	res, err := rstack.DoDHCPv4([4]byte{}, 3*time.Second, 3)
	if err != nil {
		return errors.New("dhcp: " + err.Error())
	}
	if err := n.stack.AssimilateDHCPResults(res); err != nil {
		return errors.New("assimilate dhcp: " + err.Error())
	}
	gw, err := rstack.DoResolveHardwareAddress6(res.Router, 500*time.Millisecond, 4)
	if err != nil {
		return errors.New("resolve gateway: " + err.Error())
	}
	n.stack.SetGateway6(gw)
	n.log.Info("net:dhcp_complete", slog.String("ip", res.AssignedAddr.String()), slog.String("router", res.Router.String()))
	return nil
}

// dial resolves addr (host:port) and opens the single TCP connection.
func (n *picoNet) dial(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	i := strings.LastIndexByte(addr, ':')
	if i <= 0 {
		return nil, errors.New("missing port in " + addr)
	}
	port, err := strconv.ParseUint(addr[i+1:], 10, 16)
	if err != nil {
		return nil, errors.New("bad port in " + addr)
	}
	host := addr[:i]

	rstack := n.stack.StackRetrying(pollTime)
	ip, err := netip.ParseAddr(host)
	if err != nil {
		addrs, err := rstack.DoLookupIP(host, 5*time.Second, 3)
		if err != nil {
			return nil, errors.New("dns " + host + ": " + err.Error())
		}
		if len(addrs) == 0 {
			return nil, errors.New("dns " + host + ": no addresses")
		}
		ip = addrs[0]
	}

	n.mu.Lock()
	local := uint16(n.stack.Prand32()>>17) + 1024
	if err := rstack.DoDialTCP(&n.conn, local, netip.AddrPortFrom(ip, uint16(port)), 10*time.Second, 3); err != nil {
		n.abort()
		n.mu.Unlock()
		return nil, err
	}
	n.log.Info("net:tcp_connected", slog.String("remote", addr))
	return &tcpLink{n: n}, nil
}

func (n *picoNet) abort() {
	n.conn.Close()
	for i := 0; i < 50 && !n.conn.State().IsClosed(); i++ {
		time.Sleep(100 * time.Millisecond)
	}
	n.conn.Abort()
}

// tcpLink holds the connection lock until closed.
type tcpLink struct {
	n    *picoNet
	once sync.Once
}

func (l *tcpLink) Read(b []byte) (int, error)  { return l.n.conn.Read(b) }
func (l *tcpLink) Write(b []byte) (int, error) { return l.n.conn.Write(b) }

func (l *tcpLink) SetDeadline(t time.Time) error {
	l.n.conn.SetDeadline(t)
	return nil
}

func (l *tcpLink) Close() error {
	l.once.Do(func() {
		l.n.abort()
		l.n.mu.Unlock()
	})
	return nil
}

// Package tunnel bridges TCP clients sitting behind restrictive firewalls
// into the local UDP relay pipeline: each accepted connection gets its own
// loopback UDP socket, and length-prefixed frames are proxied in both
// directions.
package tunnel

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/orlandoviols/ovrelay/internal/metricsx"
	"github.com/orlandoviols/ovrelay/internal/wire"
)

// MaxFrameSize bounds a single tunneled frame at the relay's own UDP
// datagram size; a declared length beyond it cannot be a real relay
// datagram and is treated as a protocol error closing the connection
// (spec.md §7 "TCP frame error").
const MaxFrameSize = wire.BufSize

// Bridge accepts TCP connections and proxies framed UDP datagrams between
// them and a local relay socket.
type Bridge struct {
	log    zerolog.Logger
	metric *metricsx.Relay
}

// New creates a Bridge that logs via log and records connection/frame-error
// counts on metric.
func New(log zerolog.Logger, metric *metricsx.Relay) *Bridge {
	return &Bridge{log: log, metric: metric}
}

// Serve listens on listenPort and, for every accepted connection, relays
// frames to and from 127.0.0.1:targetUDPPort until ctx is canceled.
func (b *Bridge) Serve(ctx context.Context, listenPort, targetUDPPort int) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp4", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return fmt.Errorf("tunnel: listen tcp %d: %w", listenPort, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			default:
				b.log.Debug().Err(err).Msg("tcp accept error")
				continue
			}
		}

		b.metric.TCPConnectionsTotal.Inc()
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.handleConn(ctx, conn, targetUDPPort)
		}()
	}
}

// handleConn proxies one TCP connection against its own loopback UDP socket
// until either side closes or a frame error occurs.
func (b *Bridge) handleConn(ctx context.Context, conn net.Conn, targetUDPPort int) {
	defer conn.Close()

	udpConn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: targetUDPPort})
	if err != nil {
		b.log.Debug().Err(err).Msg("tunnel: dial loopback udp failed")
		return
	}
	defer udpConn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closeBoth(conn, udpConn)
		case <-done:
		}
	}()
	defer close(done)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); b.tcpToUDP(conn, udpConn) }()
	go func() { defer wg.Done(); b.udpToTCP(conn, udpConn) }()
	wg.Wait()
}

// tcpToUDP reads length-prefixed frames from conn and forwards each payload
// as a single UDP datagram to udpConn's peer.
func (b *Bridge) tcpToUDP(conn net.Conn, udpConn *net.UDPConn) {
	defer closeBoth(conn, udpConn)

	var lenBuf [2]byte
	for {
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := int(binary.LittleEndian.Uint16(lenBuf[:]))
		if n > MaxFrameSize {
			b.metric.TCPFrameErrorsTotal.Inc()
			return
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			b.metric.TCPFrameErrorsTotal.Inc()
			return
		}

		if _, err := udpConn.Write(payload); err != nil {
			return
		}
	}
}

// udpToTCP reads datagrams from udpConn and writes each as a
// length-prefixed frame to conn.
func (b *Bridge) udpToTCP(conn net.Conn, udpConn *net.UDPConn) {
	defer closeBoth(conn, udpConn)

	buf := make([]byte, MaxFrameSize)
	for {
		n, err := udpConn.Read(buf)
		if err != nil {
			return
		}

		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(n))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			return
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return
		}
	}
}

// closeBoth tears down both sockets, unblocking whichever of tcpToUDP/
// udpToTCP is still parked in a read.
func closeBoth(conn net.Conn, udpConn *net.UDPConn) {
	conn.Close()
	udpConn.Close()
}

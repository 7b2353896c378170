// Package transport implements the dual-stack UDP/TCP multiplexer: one
// logical "send a message to a peer" primitive over two address families
// and two framing modes, demultiplexing inbound traffic back to whichever
// domain owns it.
//
// It generalizes the teacher's single ZMQ ROUTER inbox (node.go's
// `node.inbox *zmq.Socket` plus `inboxHandler`/`handler` goroutines) into
// three long-running workers — a UDP reader, a TCP acceptor, and
// per-connection TCP readers — and adapts beacon.go's dual-stack
// (ipv4/ipv6) PacketConn setup from multicast discovery to unicast
// send/receive.
package transport

import (
	"fmt"
	"log"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/arkth-araya/bbc1/netcore/codec"
	"github.com/arkth-araya/bbc1/netcore/peer"
)

// TCPThresholdSize is the serialized-size cutoff above which a message is
// sent over a freshly opened TCP connection instead of UDP.
const TCPThresholdSize = 1300

const udpReadBufferSize = 1500
const tcpReadBufferSize = 8192

// Inbound is implemented by whatever owns the domain table (NetworkHub) and
// receives demultiplexed traffic from the transport.
type Inbound interface {
	// RouteDomainMessage dispatches a decoded body to the domain named by
	// domain_id inside body. from is nil for TCP-delivered frames, per the
	// spec: a domain must not rely on source address for TCP.
	RouteDomainMessage(isV4 bool, from net.Addr, body codec.Body)

	// RouteDomainPing handles the transport-level domain-probe exchange
	// (section 4.7), which is processed before any domain membership is
	// established.
	RouteDomainPing(isV4 bool, from net.Addr, body codec.Body)
}

// Transport owns the UDP and TCP sockets for one node.
type Transport struct {
	port int

	udp4 *net.UDPConn
	udp6 *net.UDPConn
	tcp4 *net.TCPListener
	tcp6 *net.TCPListener

	// pconn4/pconn6 wrap udp4/udp6 for control-message support, the same
	// technique beacon.go uses (there for multicast group membership; here
	// just to request the destination address on each read).
	pconn4 *ipv4.PacketConn
	pconn6 *ipv6.PacketConn

	inbound Inbound

	wg   sync.WaitGroup
	quit chan struct{}

	logger *log.Logger
}

// Listen binds UDP and TCP listeners on port for both 0.0.0.0 and ::. A
// bind failure on one address family is logged and the other still
// serves; failure on both families (for either protocol) is fatal, per
// the error handling design's transport-bind-failure policy.
func Listen(port int, inbound Inbound) (*Transport, error) {
	t := &Transport{
		port:    port,
		inbound: inbound,
		quit:    make(chan struct{}),
		logger:  log.New(log.Writer(), "transport: ", log.LstdFlags),
	}

	udp4, err4 := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err4 != nil {
		t.logger.Printf("W: udp4 bind failed: %v", err4)
	} else {
		t.udp4 = udp4
		t.pconn4 = ipv4.NewPacketConn(udp4)
		if err := t.pconn4.SetControlMessage(ipv4.FlagDst, true); err != nil {
			t.logger.Printf("W: udp4 SetControlMessage failed: %v", err)
		}
	}

	udp6, err6 := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6zero, Port: port})
	if err6 != nil {
		t.logger.Printf("W: udp6 bind failed: %v", err6)
	} else {
		t.udp6 = udp6
		t.pconn6 = ipv6.NewPacketConn(udp6)
		if err := t.pconn6.SetControlMessage(ipv6.FlagDst, true); err != nil {
			t.logger.Printf("W: udp6 SetControlMessage failed: %v", err)
		}
	}

	if t.udp4 == nil && t.udp6 == nil {
		return nil, fmt.Errorf("transport: both udp4 and udp6 bind failed: %v / %v", err4, err6)
	}

	tcp4, terr4 := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4zero, Port: port})
	if terr4 != nil {
		t.logger.Printf("W: tcp4 listen failed: %v", terr4)
	} else {
		t.tcp4 = tcp4
	}

	tcp6, terr6 := net.ListenTCP("tcp6", &net.TCPAddr{IP: net.IPv6zero, Port: port})
	if terr6 != nil {
		t.logger.Printf("W: tcp6 listen failed: %v", terr6)
	} else {
		t.tcp6 = tcp6
	}

	if t.tcp4 == nil && t.tcp6 == nil {
		return nil, fmt.Errorf("transport: both tcp4 and tcp6 listen failed: %v / %v", terr4, terr6)
	}

	if t.udp4 != nil {
		t.wg.Add(1)
		go t.udpReadLoop(true)
	}
	if t.udp6 != nil {
		t.wg.Add(1)
		go t.udpReadLoop(false)
	}
	if t.tcp4 != nil {
		t.wg.Add(1)
		go t.tcpAcceptLoop(t.tcp4, true)
	}
	if t.tcp6 != nil {
		t.wg.Add(1)
		go t.tcpAcceptLoop(t.tcp6, false)
	}

	return t, nil
}

// Close stops all listeners and waits for the read loops to exit.
func (t *Transport) Close() {
	close(t.quit)
	if t.udp4 != nil {
		t.udp4.Close()
	}
	if t.udp6 != nil {
		t.udp6.Close()
	}
	if t.tcp4 != nil {
		t.tcp4.Close()
	}
	if t.tcp6 != nil {
		t.tcp6.Close()
	}
	t.wg.Wait()
}

// Port returns the port passed to Listen. When that port is 0, each
// listener is bound to its own kernel-chosen port and Port returns 0.
func (t *Transport) Port() int { return t.port }

// SendToPeer serializes via frame and sends it to info, picking UDP or TCP
// by size. TCP sends are dispatched to a short-lived worker goroutine so
// the caller never blocks on connection setup (the large-message path is
// asynchronous; UDP is already non-blocking from the caller's view).
func (t *Transport) SendToPeer(info peer.NodeInfo, frame []byte) error {
	if len(frame) > TCPThresholdSize {
		t.wg.Add(1)
		go t.sendTCP(info, frame)
		return nil
	}
	return t.sendUDP(info, frame)
}

// SendRaw sends frame by UDP to an address that is not (yet) a table peer,
// used for the domain-probe bootstrap exchange in section 4.7. port/ipv4/
// ipv6 mirror peer.NodeInfo's address fields; exactly one of ipv4/ipv6 is
// normally set.
func (t *Transport) SendRaw(ipv4, ipv6 string, port uint16, frame []byte) error {
	return t.sendUDP(peer.NodeInfo{IPv4: ipv4, IPv6: ipv6, Port: port}, frame)
}

func (t *Transport) sendUDP(info peer.NodeInfo, frame []byte) error {
	if info.IPv4 != "" {
		if t.udp4 == nil {
			return fmt.Errorf("transport: no udp4 socket to send to %s", info.IPv4)
		}
		addr := &net.UDPAddr{IP: net.ParseIP(info.IPv4), Port: int(info.Port)}
		_, err := t.udp4.WriteToUDP(frame, addr)
		return err
	}
	if info.IPv6 != "" {
		if t.udp6 == nil {
			return fmt.Errorf("transport: no udp6 socket to send to %s", info.IPv6)
		}
		addr := &net.UDPAddr{IP: net.ParseIP(info.IPv6), Port: int(info.Port)}
		_, err := t.udp6.WriteToUDP(frame, addr)
		return err
	}
	return fmt.Errorf("transport: peer %s has no known address", info.NodeId.Short())
}

// sendTCP opens a short-lived connection, writes the single frame and
// closes — directly descended from the source project's
// send_data_by_tcp/worker() fire-and-forget goroutine.
func (t *Transport) sendTCP(info peer.NodeInfo, frame []byte) {
	defer t.wg.Done()

	host := info.IPv4
	if host == "" {
		host = info.IPv6
	}
	if host == "" {
		t.logger.Printf("E: no address to dial peer %s over tcp", info.NodeId.Short())
		return
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", info.Port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.logger.Printf("E: tcp dial %s failed: %v", addr, err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write(frame); err != nil {
		t.logger.Printf("E: tcp write to %s failed: %v", addr, err)
	}
}

// udpReadLoop reads through the ipv4/ipv6 PacketConn wrapper rather than
// the raw *net.UDPConn so a future consumer can act on the control
// message's destination address (e.g. to tell which of several bound
// local addresses a peer is reaching); today only the source address is
// used, same as a plain ReadFromUDP would give.
func (t *Transport) udpReadLoop(isV4 bool) {
	defer t.wg.Done()

	buf := make([]byte, udpReadBufferSize)
	for {
		var n int
		var addr net.Addr
		var err error
		if isV4 {
			n, _, addr, err = t.pconn4.ReadFrom(buf)
		} else {
			n, _, addr, err = t.pconn6.ReadFrom(buf)
		}
		if err != nil {
			select {
			case <-t.quit:
				return
			default:
				t.logger.Printf("E: udp read failed: %v", err)
				continue
			}
		}

		dec := codec.NewDecoder(codec.ModeDatagram)
		dec.Feed(buf[:n])
		for {
			env, ok := dec.Next()
			if !ok {
				break
			}
			t.dispatch(isV4, addr, env)
		}
	}
}

func (t *Transport) tcpAcceptLoop(ln *net.TCPListener, isV4 bool) {
	defer t.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.quit:
				return
			default:
				t.logger.Printf("E: tcp accept failed: %v", err)
				continue
			}
		}

		t.wg.Add(1)
		go t.tcpReadLoop(conn, isV4)
	}
}

func (t *Transport) tcpReadLoop(conn net.Conn, isV4 bool) {
	defer t.wg.Done()
	defer conn.Close()

	dec := codec.NewDecoder(codec.ModeStream)
	buf := make([]byte, tcpReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				env, ok := dec.Next()
				if !ok {
					break
				}
				// Per spec, TCP-delivered frames carry no remote address:
				// a domain must not rely on source address for TCP.
				t.dispatch(isV4, nil, env)
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *Transport) dispatch(isV4 bool, from net.Addr, env codec.Envelope) {
	if env.PayloadType != codec.MsgPack {
		// Binary payloads and unrecognized payload types have no built-in
		// consumer in this core; drop silently per the decode-failure
		// policy (offending frame dropped, connection stays up).
		return
	}

	body, err := codec.DecodeBody(env.Body)
	if err != nil {
		t.logger.Printf("W: dropping malformed body: %v", err)
		return
	}

	if _, ok := body[codec.KeyDomainPing]; ok {
		t.inbound.RouteDomainPing(isV4, from, body)
		return
	}

	if _, ok := body[codec.KeyDomainID]; !ok {
		return
	}
	if _, ok := body[codec.KeyDestinationNodeID]; !ok {
		return
	}
	t.inbound.RouteDomainMessage(isV4, from, body)
}

// DetectLocalAddresses probes outbound sockets toward target4/target6 to
// learn which local address would be used to reach the public internet,
// the same technique as the source project's check_my_IPaddresses: dial a
// UDP "connection" (no packet is actually sent) and read back the local
// address the kernel picked.
func DetectLocalAddresses(target4, target6 string, port int) (ipv4, ipv6 string) {
	if conn, err := net.Dial("udp4", net.JoinHostPort(target4, "80")); err == nil {
		ipv4 = conn.LocalAddr().(*net.UDPAddr).IP.String()
		conn.Close()
	}
	if conn, err := net.Dial("udp6", net.JoinHostPort(target6, "80")); err == nil {
		ipv6 = conn.LocalAddr().(*net.UDPAddr).IP.String()
		conn.Close()
	}
	return ipv4, ipv6
}

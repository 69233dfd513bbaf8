package domain

import (
	"net"
	"time"
)

// TCP flag bits.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
	TCPFlagURG uint8 = 0x20
)

// TcpState enumerates the simplified TCP state machine (RFC 793 state
// names).
type TcpState int

const (
	TcpStateListen TcpState = iota
	TcpStateSynSent
	TcpStateSynReceived
	TcpStateEstablished
	TcpStateFinWait1
	TcpStateFinWait2
	TcpStateCloseWait
	TcpStateClosing
	TcpStateLastAck
	TcpStateTimeWait
	TcpStateClosed
)

func (s TcpState) String() string {
	switch s {
	case TcpStateListen:
		return "LISTEN"
	case TcpStateSynSent:
		return "SYN_SENT"
	case TcpStateSynReceived:
		return "SYN_RECEIVED"
	case TcpStateEstablished:
		return "ESTABLISHED"
	case TcpStateFinWait1:
		return "FIN_WAIT_1"
	case TcpStateFinWait2:
		return "FIN_WAIT_2"
	case TcpStateCloseWait:
		return "CLOSE_WAIT"
	case TcpStateClosing:
		return "CLOSING"
	case TcpStateLastAck:
		return "LAST_ACK"
	case TcpStateTimeWait:
		return "TIME_WAIT"
	case TcpStateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TcpFlowKey identifies a TCP flow by (src, dst, srcPort, dstPort) in the
// direction of the segment that created it; the key itself is ordered, and
// the tracker matches segments in either direction by trying both orders.
type TcpFlowKey struct {
	SrcIP   [16]byte
	DstIP   [16]byte
	SrcPort uint16
	DstPort uint16
}

// NewTcpFlowKey builds a key from addresses/ports, normalizing IPv4
// addresses into the low 4 bytes of the 16-byte array.
func NewTcpFlowKey(src, dst net.IP, srcPort, dstPort uint16) TcpFlowKey {
	var k TcpFlowKey
	copyIP(k.SrcIP[:], src)
	copyIP(k.DstIP[:], dst)
	k.SrcPort = srcPort
	k.DstPort = dstPort
	return k
}

func copyIP(dst []byte, ip net.IP) {
	if v4 := ip.To4(); v4 != nil {
		copy(dst[12:], v4)
		return
	}
	copy(dst, ip.To16())
}

// TcpFlow is the observable state of one tracked TCP connection. The cwnd
// counters are a simplified per-ACK tally for observability and are never
// used for flow control.
// ClientNextSeq/ServerNextSeq track each direction's next expected sequence
// number; ClientData/ServerData accumulate in-order payload bytes per
// direction.
type TcpFlow struct {
	Key           TcpFlowKey
	State         TcpState
	ClientISN     uint32
	ServerISN     uint32
	ClientNextSeq uint32
	ServerNextSeq uint32
	ClientWindow  uint16
	ServerWindow  uint16
	ClientData    []byte
	ServerData    []byte
	ClientCwnd    uint32
	ServerCwnd    uint32
	ClientMSS     uint16
	ServerMSS     uint16
	FirstSeen     time.Time
	LastSeen      time.Time
	TimeWaitAt    time.Time
}

// SetMSS records a negotiated MSS option for the given direction.
func (f *TcpFlow) SetMSS(fromClient bool, mss uint16) {
	if fromClient {
		f.ClientMSS = mss
	} else {
		f.ServerMSS = mss
	}
}

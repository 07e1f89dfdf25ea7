package wire

// Control ports. Any Port greater than MaxSpecialPort carries opaque
// media/data forwarded unmodified between stage devices.
const (
	PortRegister          Port = 0
	PortListCID           Port = 1
	PortSetLocalIP        Port = 2
	PortPubkey            Port = 3
	PortPong              Port = 4
	PortPingServer        Port = 5
	PortPongServer        Port = 6
	PortSeqReport         Port = 7
	PortPeerLatencyReport Port = 8

	MaxSpecialPort Port = PortPeerLatencyReport
)

// Mode bits, sticky on a registry slot from the last REGISTER until vacancy.
// They are transmitted as the "seq" field of a REGISTER datagram and as the
// "flags" field of LISTCID announcements.
const (
	ModePeerToPeer     uint32 = 1 << 0
	ModeReceiveDownmix uint32 = 1 << 1
	ModeSendDownmix    uint32 = 1 << 2
	ModeDoNotSend      uint32 = 1 << 3
)

// PubkeySize is the fixed length of an end-to-end public key relayed, never
// inspected, by the server.
const PubkeySize = 32

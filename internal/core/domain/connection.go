package domain

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type ConnectionID uint64

type TransportKind int

const (
	TransportPlain TransportKind = iota
	TransportTLS
)

func (k TransportKind) String() string {
	switch k {
	case TransportPlain:
		return "plain"
	case TransportTLS:
		return "tls"
	default:
		return "unknown"
	}
}

// Transport is the byte stream behind a Connection. The only implementations
// are PlainTransport and SecureTransport.
type Transport interface {
	net.Conn
	Kind() TransportKind
	sealed()
}

// PlainTransport is an unencrypted TCP stream.
type PlainTransport struct {
	net.Conn
}

func (PlainTransport) Kind() TransportKind { return TransportPlain }
func (PlainTransport) sealed()             {}

// SecureTransport is a server-side TLS stream whose handshake has completed.
type SecureTransport struct {
	*tls.Conn
}

func (SecureTransport) Kind() TransportKind { return TransportTLS }
func (SecureTransport) sealed()             {}

// PeerCommonName returns the subject CN of the verified client certificate.
func (t SecureTransport) PeerCommonName() string {
	state := t.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return ""
	}
	return state.PeerCertificates[0].Subject.CommonName
}

// Traffic holds cumulative per-connection counters.
type Traffic struct {
	BytesReceived        atomic.Uint64
	MessagesReceived     atomic.Uint64
	FileBytesReceived    atomic.Uint64
	FileMessagesReceived atomic.Uint64
	BytesSent            atomic.Uint64
	MessagesSent         atomic.Uint64
	FileBytesSent        atomic.Uint64
	FileMessagesSent     atomic.Uint64
}

// TrafficStats is a point-in-time copy of Traffic.
type TrafficStats struct {
	BytesReceived        uint64 `json:"bytes_received"`
	MessagesReceived     uint64 `json:"messages_received"`
	FileBytesReceived    uint64 `json:"file_bytes_received"`
	FileMessagesReceived uint64 `json:"file_messages_received"`
	BytesSent            uint64 `json:"bytes_sent"`
	MessagesSent         uint64 `json:"messages_sent"`
	FileBytesSent        uint64 `json:"file_bytes_sent"`
	FileMessagesSent     uint64 `json:"file_messages_sent"`
}

// TotalBytes sums normal and file traffic in both directions.
func (s TrafficStats) TotalBytes() uint64 {
	return s.BytesReceived + s.FileBytesReceived + s.BytesSent + s.FileBytesSent
}

// TotalMessages sums normal and file messages in both directions.
func (s TrafficStats) TotalMessages() uint64 {
	return s.MessagesReceived + s.FileMessagesReceived + s.MessagesSent + s.FileMessagesSent
}

// Connection is the state of one accepted client.
type Connection struct {
	ID          ConnectionID
	Transport   Transport
	RemoteAddr  string
	ConnectedAt time.Time

	Traffic Traffic

	sourceID     atomic.Value // string
	lastActivity atomic.Int64
	connected    atomic.Bool
	ready        atomic.Bool
	relaying     atomic.Bool

	writeMu sync.Mutex

	handoffOnce sync.Once
	handoff     chan struct{}
	closed      chan struct{}
}

func NewConnection(id ConnectionID, transport Transport, now time.Time) *Connection {
	c := &Connection{
		ID:          id,
		Transport:   transport,
		ConnectedAt: now,
		handoff:     make(chan struct{}),
		closed:      make(chan struct{}),
	}
	if addr := transport.RemoteAddr(); addr != nil {
		c.RemoteAddr = addr.String()
	}
	c.sourceID.Store("")
	c.lastActivity.Store(now.UnixNano())
	c.connected.Store(true)
	return c
}

func (c *Connection) Kind() TransportKind {
	return c.Transport.Kind()
}

func (c *Connection) SourceID() string {
	return c.sourceID.Load().(string)
}

// SetSourceID records the id the peer announces and reports whether it changed.
// Empty ids are ignored.
func (c *Connection) SetSourceID(id string) bool {
	if id == "" {
		return false
	}
	return c.sourceID.Swap(id).(string) != id
}

// Touch records activity at t.
func (c *Connection) Touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// IdleFor returns how long the connection has been silent as of now.
func (c *Connection) IdleFor(now time.Time) time.Duration {
	return now.Sub(c.LastActivity())
}

func (c *Connection) Connected() bool { return c.connected.Load() }

// MarkDisconnected flips the connected flag and reports whether this call did it.
func (c *Connection) MarkDisconnected() bool {
	if !c.connected.CompareAndSwap(true, false) {
		return false
	}
	close(c.closed)
	return true
}

// Closed is closed once MarkDisconnected succeeds.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// Ready reports whether the read loop has started consuming frames.
func (c *Connection) Ready() bool { return c.ready.Load() }

func (c *Connection) MarkReady() { c.ready.Store(true) }

// ClaimForRelay reserves the connection for a direct relay. Only one relay may
// own a connection.
func (c *Connection) ClaimForRelay() bool {
	return c.relaying.CompareAndSwap(false, true)
}

func (c *Connection) ReleaseRelayClaim() { c.relaying.Store(false) }

func (c *Connection) Relaying() bool { return c.relaying.Load() }

// HandOff is called by the read loop once it has stopped reading so that a
// relay can take over the transport.
func (c *Connection) HandOff() {
	c.handoffOnce.Do(func() { close(c.handoff) })
}

// HandedOff is closed after HandOff.
func (c *Connection) HandedOff() <-chan struct{} { return c.handoff }

// Write serialises writers on the transport and counts the bytes as sent.
func (c *Connection) Write(p []byte, file bool) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.Transport.Write(p)
	if n > 0 {
		c.RecordSent(uint64(n), file)
	}
	return n, err
}

// WriteRelayed writes raw relay bytes. Only bytes are counted: a relay stream
// has no message boundaries.
func (c *Connection) WriteRelayed(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.Transport.Write(p)
	if n > 0 {
		c.Traffic.BytesSent.Add(uint64(n))
	}
	return n, err
}

// RecordRelayed counts n raw relay bytes read from the peer.
func (c *Connection) RecordRelayed(n uint64) {
	c.Traffic.BytesReceived.Add(n)
}

// RecordReceived counts one inbound message of n bytes.
func (c *Connection) RecordReceived(n uint64, file bool) {
	if file {
		c.Traffic.FileBytesReceived.Add(n)
		c.Traffic.FileMessagesReceived.Add(1)
		return
	}
	c.Traffic.BytesReceived.Add(n)
	c.Traffic.MessagesReceived.Add(1)
}

// RecordSent counts one outbound message of n bytes.
func (c *Connection) RecordSent(n uint64, file bool) {
	if file {
		c.Traffic.FileBytesSent.Add(n)
		c.Traffic.FileMessagesSent.Add(1)
		return
	}
	c.Traffic.BytesSent.Add(n)
	c.Traffic.MessagesSent.Add(1)
}

func (c *Connection) Stats() TrafficStats {
	return TrafficStats{
		BytesReceived:        c.Traffic.BytesReceived.Load(),
		MessagesReceived:     c.Traffic.MessagesReceived.Load(),
		FileBytesReceived:    c.Traffic.FileBytesReceived.Load(),
		FileMessagesReceived: c.Traffic.FileMessagesReceived.Load(),
		BytesSent:            c.Traffic.BytesSent.Load(),
		MessagesSent:         c.Traffic.MessagesSent.Load(),
		FileBytesSent:        c.Traffic.FileBytesSent.Load(),
		FileMessagesSent:     c.Traffic.FileMessagesSent.Load(),
	}
}

// ConnectionInfo is an immutable view of a Connection for APIs and stores.
type ConnectionInfo struct {
	ID           ConnectionID `json:"id"`
	Transport    string       `json:"transport"`
	RemoteAddr   string       `json:"remote_addr"`
	SourceID     string       `json:"source_id,omitempty"`
	Connected    bool         `json:"connected"`
	Relaying     bool         `json:"relaying"`
	ConnectedAt  time.Time    `json:"connected_at"`
	LastActivity time.Time    `json:"last_activity"`
	Traffic      TrafficStats `json:"traffic"`
}

func (c *Connection) Snapshot() ConnectionInfo {
	return ConnectionInfo{
		ID:           c.ID,
		Transport:    c.Kind().String(),
		RemoteAddr:   c.RemoteAddr,
		SourceID:     c.SourceID(),
		Connected:    c.Connected(),
		Relaying:     c.Relaying(),
		ConnectedAt:  c.ConnectedAt,
		LastActivity: c.LastActivity(),
		Traffic:      c.Stats(),
	}
}

package domain

import "time"

type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh

	PriorityCount = 3
)

// Priorities lists every priority from highest to lowest.
var Priorities = [PriorityCount]Priority{PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) Valid() bool {
	return p < PriorityCount
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

type InfoType uint8

const (
	InfoMessage InfoType = iota
	InfoFile
	InfoAudioRequest
	InfoVideoRequest
	InfoNotice

	infoTypeCount
)

func (t InfoType) Valid() bool {
	return t < infoTypeCount
}

// IsRealtime reports whether the packet asks for a direct audio/video relay.
func (t InfoType) IsRealtime() bool {
	return t == InfoAudioRequest || t == InfoVideoRequest
}

func (t InfoType) IsFile() bool {
	return t == InfoFile
}

func (t InfoType) String() string {
	switch t {
	case InfoMessage:
		return "message"
	case InfoFile:
		return "file"
	case InfoAudioRequest:
		return "audio_request"
	case InfoVideoRequest:
		return "video_request"
	case InfoNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Packet is the application message carried in a frame payload.
type Packet struct {
	Priority Priority
	InfoType InfoType
	SourceID string
	TargetID string
	Data     []byte
}

// InboundMessage is a parsed packet together with the connection it arrived on.
type InboundMessage struct {
	Packet     Packet
	Conn       *Connection
	ReceivedAt time.Time
}

// ConnectionID returns the id of the originating connection, or 0 if unknown.
func (m InboundMessage) ConnectionID() ConnectionID {
	if m.Conn == nil {
		return 0
	}
	return m.Conn.ID
}

// RouteOutcome is what the router did with a message.
type RouteOutcome int

const (
	OutcomeEnqueued RouteOutcome = iota
	OutcomeDropped
	OutcomeRelayed
	OutcomeNoticeSent
	// OutcomeIgnored covers real-time requests that could not be served.
	OutcomeIgnored
)

func (o RouteOutcome) String() string {
	switch o {
	case OutcomeEnqueued:
		return "enqueued"
	case OutcomeDropped:
		return "dropped"
	case OutcomeRelayed:
		return "relayed"
	case OutcomeNoticeSent:
		return "notice_sent"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

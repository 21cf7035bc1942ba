package models

import "encoding/json"

// SignalType represents the type of a signaling message
type SignalType string

const (
	SignalTypeAuth       SignalType = "auth"
	SignalTypeOffer      SignalType = "offer"
	SignalTypeAnswer     SignalType = "answer"
	SignalTypeICE        SignalType = "ice"
	SignalTypeChat       SignalType = "chat"
	SignalTypeSync       SignalType = "sync"
	SignalTypeHeartbeat  SignalType = "heartbeat"
	SignalTypePeerList   SignalType = "peerList"
	SignalTypePeerJoined SignalType = "peerJoined"
	SignalTypePeerLeft   SignalType = "peerLeft"
	SignalTypeError      SignalType = "error"
)

// SignalMessage is the JSON envelope exchanged over a signaling session.
// Data is kept as raw JSON so SDP/ICE and collaboration payloads are
// forwarded verbatim, never interpreted.
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// AuthPayload is the data field of an auth message
type AuthPayload struct {
	Token string `json:"token"`
}

// PeerInfo describes one peer in a peerList payload
type PeerInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
}

// PeerListPayload is the data field of a peerList message
type PeerListPayload struct {
	Peers []PeerInfo `json:"peers"`
}

// PeerEventPayload is the data field of peerJoined/peerLeft messages
type PeerEventPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ErrorPayload is the data field of an error message
type ErrorPayload struct {
	Error string `json:"error"`
}

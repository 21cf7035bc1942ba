package models

import "time"

// TokenRequest is the request body for issuing a room token
type TokenRequest struct {
	UserID string `json:"userId" binding:"required"`
	RoomID string `json:"roomId" binding:"required"`
}

// TokenResponse is the response for a token issuance
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"` // seconds
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	RoomID   string `json:"roomId,omitempty"` // generated when omitted
	RoomName string `json:"roomName" binding:"required"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID   string `json:"roomId"`
	RoomName string `json:"roomName"`
	HostID   string `json:"hostId"`
}

// RoomResponse describes a room for the introspection API
type RoomResponse struct {
	RoomID       string         `json:"roomId"`
	RoomName     string         `json:"roomName"`
	HostID       string         `json:"hostId"`
	State        string         `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActivity time.Time      `json:"lastActivity"`
	PeerCount    int            `json:"peerCount"`
	Peers        []PeerResponse `json:"peers,omitempty"`
}

// PeerResponse describes a peer for the introspection API
type PeerResponse struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	IsHost      bool      `json:"isHost"`
	ConnectedAt time.Time `json:"connectedAt"`
}

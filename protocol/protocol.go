// Package protocol defines the frames exchanged between a board client and the relay.
//
// Messages are encoded as protobuf wire format. Field numbers are stable and unknown
// fields are skipped, so older peers can read newer frames.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

type MessageType int32

const (
	MessageType_Unknown           MessageType = 0
	MessageType_SyncAuth          MessageType = 1
	MessageType_SyncUpdate        MessageType = 2
	MessageType_SyncRequest       MessageType = 3
	MessageType_PresenceAwareness MessageType = 4
)

func (self MessageType) String() string {
	switch self {
	case MessageType_SyncAuth:
		return "SyncAuth"
	case MessageType_SyncUpdate:
		return "SyncUpdate"
	case MessageType_SyncRequest:
		return "SyncRequest"
	case MessageType_PresenceAwareness:
		return "PresenceAwareness"
	default:
		return fmt.Sprintf("MessageType(%d)", int32(self))
	}
}

type Message interface {
	MessageType() MessageType
	Marshal() []byte
	Unmarshal(b []byte) error
}

// Frame is the envelope for every message on the wire.
type Frame struct {
	MessageType  MessageType
	MessageBytes []byte
}

func (self *Frame) GetMessageBytes() []byte {
	if self == nil {
		return nil
	}
	return self.MessageBytes
}

func (self *Frame) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(self.MessageType))
	b = appendBytes(b, 2, self.MessageBytes)
	return b
}

func (self *Frame) Unmarshal(b []byte) error {
	*self = Frame{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			self.MessageType = MessageType(v)
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			self.MessageBytes = clone(v)
			return n
		}
		return skip
	})
}

// Auth is the first frame on a connection. The relay echoes the exact bytes back on success.
type Auth struct {
	Token      string
	Room       string
	ClientId   []byte
	AppVersion string
}

func (self *Auth) MessageType() MessageType {
	return MessageType_SyncAuth
}

func (self *Auth) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, self.Token)
	b = appendString(b, 2, self.Room)
	b = appendBytes(b, 3, self.ClientId)
	b = appendString(b, 4, self.AppVersion)
	return b
}

func (self *Auth) Unmarshal(b []byte) error {
	*self = Auth{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return skip
		}
		switch num {
		case 1:
			v, n := protowire.ConsumeString(b)
			self.Token = v
			return n
		case 2:
			v, n := protowire.ConsumeString(b)
			self.Room = v
			return n
		case 3:
			v, n := protowire.ConsumeBytes(b)
			self.ClientId = clone(v)
			return n
		case 4:
			v, n := protowire.ConsumeString(b)
			self.AppVersion = v
			return n
		}
		return skip
	})
}

// Op is one register write for a key of the replicated map.
// A deleted op is a tombstone and carries no value.
type Op struct {
	Key       string
	Value     []byte
	Deleted   bool
	Clock     uint64
	ReplicaId []byte
}

func (self *Op) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, self.Key)
	b = appendBytes(b, 2, self.Value)
	if self.Deleted {
		b = appendVarint(b, 3, protowire.EncodeBool(true))
	}
	b = appendVarint(b, 4, self.Clock)
	b = appendBytes(b, 5, self.ReplicaId)
	return b
}

func (self *Op) Unmarshal(b []byte) error {
	*self = Op{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			self.Key = v
			return n
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			self.Value = clone(v)
			return n
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			self.Deleted = protowire.DecodeBool(v)
			return n
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			self.Clock = v
			return n
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			self.ReplicaId = clone(v)
			return n
		}
		return skip
	})
}

// Update carries a batch of ops. A full state sync is an update with every entry.
type Update struct {
	Ops []*Op
}

func (self *Update) MessageType() MessageType {
	return MessageType_SyncUpdate
}

func (self *Update) Marshal() []byte {
	var b []byte
	for _, op := range self.Ops {
		b = appendBytes(b, 1, op.Marshal())
	}
	return b
}

func (self *Update) Unmarshal(b []byte) error {
	*self = Update{}
	var opErr error
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != 1 || typ != protowire.BytesType {
			return skip
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		op := &Op{}
		if err := op.Unmarshal(v); err != nil {
			opErr = err
			return n
		}
		self.Ops = append(self.Ops, op)
		return n
	})
	if err != nil {
		return err
	}
	return opErr
}

// SyncRequest asks the peer to answer with its full state as an update.
type SyncRequest struct {
	Room string
}

func (self *SyncRequest) MessageType() MessageType {
	return MessageType_SyncRequest
}

func (self *SyncRequest) Marshal() []byte {
	return appendString(nil, 1, self.Room)
}

func (self *SyncRequest) Unmarshal(b []byte) error {
	*self = SyncRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			self.Room = v
			return n
		}
		return skip
	})
}

// Awareness is the ephemeral state of one connection.
// State is an opaque json object owned by the client. Removed marks a disconnect.
type Awareness struct {
	ClientId []byte
	Clock    uint64
	State    []byte
	Removed  bool
}

func (self *Awareness) MessageType() MessageType {
	return MessageType_PresenceAwareness
}

func (self *Awareness) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, self.ClientId)
	b = appendVarint(b, 2, self.Clock)
	b = appendBytes(b, 3, self.State)
	if self.Removed {
		b = appendVarint(b, 4, protowire.EncodeBool(true))
	}
	return b
}

func (self *Awareness) Unmarshal(b []byte) error {
	*self = Awareness{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			self.ClientId = clone(v)
			return n
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			self.Clock = v
			return n
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			self.State = clone(v)
			return n
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			self.Removed = protowire.DecodeBool(v)
			return n
		}
		return skip
	})
}

// NewMessage returns an empty message for the type.
func NewMessage(messageType MessageType) (Message, error) {
	switch messageType {
	case MessageType_SyncAuth:
		return &Auth{}, nil
	case MessageType_SyncUpdate:
		return &Update{}, nil
	case MessageType_SyncRequest:
		return &SyncRequest{}, nil
	case MessageType_PresenceAwareness:
		return &Awareness{}, nil
	default:
		return nil, fmt.Errorf("Unknown message type: %s", messageType)
	}
}

package board

import (
	"fmt"

	"github.com/sketchsync/sketch/protocol"
)

func ToFrame(message protocol.Message) (*protocol.Frame, error) {
	switch v := message.(type) {
	case *protocol.Auth, *protocol.Update, *protocol.SyncRequest, *protocol.Awareness:
	default:
		return nil, fmt.Errorf("Unknown message type: %T", v)
	}
	return &protocol.Frame{
		MessageType:  message.MessageType(),
		MessageBytes: message.Marshal(),
	}, nil
}

func FromFrame(frame *protocol.Frame) (protocol.Message, error) {
	message, err := protocol.NewMessage(frame.MessageType)
	if err != nil {
		return nil, err
	}
	err = message.Unmarshal(frame.GetMessageBytes())
	if err != nil {
		return nil, err
	}
	return message, nil
}

func EncodeFrame(message protocol.Message) ([]byte, error) {
	frame, err := ToFrame(message)
	if err != nil {
		return nil, err
	}
	return frame.Marshal(), nil
}

func DecodeFrame(b []byte) (protocol.Message, error) {
	frame := &protocol.Frame{}
	err := frame.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	return FromFrame(frame)
}

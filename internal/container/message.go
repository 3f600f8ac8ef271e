package container

import "fmt"

// MessageType is the severity of a node message.
type MessageType int

const (
	MessageNone MessageType = iota
	MessageWarning
	MessageError
)

func (t MessageType) String() string {
	switch t {
	case MessageWarning:
		return "WARNING"
	case MessageError:
		return "ERROR"
	}
	return "NONE"
}

// Message is the status message shown for a node.
type Message struct {
	Type MessageType
	Text string
}

// NoMessage is the default message.
var NoMessage = Message{}

func Warningf(format string, args ...any) Message {
	return Message{Type: MessageWarning, Text: fmt.Sprintf(format, args...)}
}

func Errorf(format string, args ...any) Message {
	return Message{Type: MessageError, Text: fmt.Sprintf(format, args...)}
}

func (m Message) String() string {
	if m.Type == MessageNone {
		return ""
	}
	return m.Type.String() + ": " + m.Text
}

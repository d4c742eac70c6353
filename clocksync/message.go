package clocksync

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// MessageKind tags every payload on the wire.
type MessageKind uint8

const (
	MsgStart MessageKind = iota
	MsgStop
	MsgBeaconRequest
	MsgBeaconReply
	MsgLatencyReport
)

type envelope struct {
	_    struct{} `cbor:",toarray"`
	Kind MessageKind
	Body cbor.RawMessage
}

type commandRecord struct {
	_        struct{} `cbor:",toarray"`
	HostTime uint64
	Tempo    float32
}

// BeaconRequest is sent by the slave, stamped with its own clock.
type BeaconRequest struct {
	_         struct{} `cbor:",toarray"`
	Seq       uint32
	SlaveSend uint64
}

// BeaconReply echoes the request and adds the master's receipt and reply
// times.
type BeaconReply struct {
	_             struct{} `cbor:",toarray"`
	Seq           uint32
	SlaveSend     uint64
	MasterReceipt uint64
	MasterReply   uint64
}

// LatencyReport tells the master what the slave measured.
type LatencyReport struct {
	_             struct{} `cbor:",toarray"`
	WorstCase     int64
	OutputLatency int64
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("clocksync: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 16,
		MaxNestedLevels:  4,
	}.DecMode()
	if err != nil {
		panic("clocksync: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(kind MessageKind, body any) ([]byte, error) {
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding message kind %d", kind)
	}
	return encMode.Marshal(envelope{Kind: kind, Body: raw})
}

// EncodeCommand serializes a Start or Stop command.
func EncodeCommand(c Command) ([]byte, error) {
	kind := MsgStart
	switch c.Kind {
	case CommandStart:
	case CommandStop:
		kind = MsgStop
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "command %d", c.Kind)
	}
	return encode(kind, commandRecord{HostTime: c.HostTime, Tempo: c.Tempo})
}

func EncodeBeaconRequest(r BeaconRequest) ([]byte, error) { return encode(MsgBeaconRequest, r) }
func EncodeBeaconReply(r BeaconReply) ([]byte, error)     { return encode(MsgBeaconReply, r) }
func EncodeLatencyReport(r LatencyReport) ([]byte, error) { return encode(MsgLatencyReport, r) }

// Message is a decoded payload. Exactly one of the pointer fields is set,
// matching Kind.
type Message struct {
	Kind    MessageKind
	Command *Command
	Request *BeaconRequest
	Reply   *BeaconReply
	Report  *LatencyReport
}

// Decode parses a payload produced by one of the Encode functions.
// Payloads come from the network, so anything malformed is an error, never
// a panic.
func Decode(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return Message{}, ErrShortMessage
	}
	var env envelope
	if err := decMode.Unmarshal(payload, &env); err != nil {
		return Message{}, errors.Wrap(ErrShortMessage, err.Error())
	}
	if len(env.Body) == 0 {
		return Message{}, ErrShortMessage
	}

	m := Message{Kind: env.Kind}
	var err error
	switch env.Kind {
	case MsgStart, MsgStop:
		var rec commandRecord
		err = decMode.Unmarshal(env.Body, &rec)
		kind := CommandStart
		if env.Kind == MsgStop {
			kind = CommandStop
			rec.Tempo = 0
		}
		m.Command = &Command{HostTime: rec.HostTime, Kind: kind, Tempo: rec.Tempo}
	case MsgBeaconRequest:
		m.Request = &BeaconRequest{}
		err = decMode.Unmarshal(env.Body, m.Request)
	case MsgBeaconReply:
		m.Reply = &BeaconReply{}
		err = decMode.Unmarshal(env.Body, m.Reply)
	case MsgLatencyReport:
		m.Report = &LatencyReport{}
		err = decMode.Unmarshal(env.Body, m.Report)
	default:
		return Message{}, errors.Wrapf(ErrUnknownKind, "kind %d", env.Kind)
	}
	if err != nil {
		return Message{}, errors.Wrapf(ErrShortMessage, "kind %d: %v", env.Kind, err)
	}
	return m, nil
}

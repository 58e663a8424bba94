package p2p

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/uhyunpark/nftmarket/pkg/app/marketplace"
)

func init() {
	gob.Register(EventWire{})
}

// EventWire is a committed marketplace event as gossiped between nodes
type EventWire struct {
	Origin string // peer ID of the node that committed it
	Seq    uint64 // per-origin sequence, starts at 1
	Type   string
	Data   []byte // JSON-encoded event payload
}

func encodeEvent(origin string, seq uint64, ev marketplace.Event) ([]byte, error) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	return gobEncode(EventWire{Origin: origin, Seq: seq, Type: string(ev.Type), Data: data})
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

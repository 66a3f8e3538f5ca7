package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
)

type OrderKind uint8

const (
	OrderLock OrderKind = 1
	OrderBurn OrderKind = 2
)

func (k OrderKind) String() string {
	switch k {
	case OrderLock:
		return "lock"
	case OrderBurn:
		return "burn"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// marshaledOrderLen is kind(1) + orderId(32) + sender(32) + amount(8) + nonce(8) + timestamp(8) + destRecipient(32).
const marshaledOrderLen = 1 + 32 + 32 + 8 + 8 + 8 + 32

// OrderRecord is a lock or burn accepted on this chain. Its amount never changes.
type OrderRecord struct {
	OrderID       bridgemsg.OrderID
	Kind          OrderKind
	Sender        bridgemsg.Address
	Amount        uint64
	Nonce         uint64
	Timestamp     uint64
	DestRecipient bridgemsg.Address
}

// MarshalBinary implements BinaryMarshaler for [OrderRecord].
func (r *OrderRecord) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	bridgemsg.MustWrite(buf, binary.BigEndian, uint8(r.Kind))
	buf.Write(r.OrderID[:])
	buf.Write(r.Sender[:])
	bridgemsg.MustWrite(buf, binary.BigEndian, r.Amount)
	bridgemsg.MustWrite(buf, binary.BigEndian, r.Nonce)
	bridgemsg.MustWrite(buf, binary.BigEndian, r.Timestamp)
	buf.Write(r.DestRecipient[:])
	return buf.Bytes(), nil
}

// UnmarshalBinary implements BinaryUnmarshaler for [OrderRecord].
func (r *OrderRecord) UnmarshalBinary(data []byte) error {
	if len(data) != marshaledOrderLen {
		return fmt.Errorf("order record is %d bytes, expected %d", len(data), marshaledOrderLen)
	}
	r.Kind = OrderKind(data[0])
	copy(r.OrderID[:], data[1:33])
	copy(r.Sender[:], data[33:65])
	r.Amount = binary.BigEndian.Uint64(data[65:73])
	r.Nonce = binary.BigEndian.Uint64(data[73:81])
	r.Timestamp = binary.BigEndian.Uint64(data[81:89])
	copy(r.DestRecipient[:], data[89:121])
	return nil
}

package bridgemsg

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type (
	// BridgeMessage is the attestation validators sign over. It is immutable once created.
	BridgeMessage struct {
		// SourceChainID is the chain the lock or burn happened on.
		SourceChainID uint64
		// DestChainID is the chain the message may be executed on.
		DestChainID uint64
		// OrderID uniquely identifies the originating lock or burn on the source chain.
		OrderID OrderID
		// Recipient is the chain-native payout address, left-padded with zeros.
		Recipient Address
		// Amount in the smallest token unit.
		Amount uint64
		// Nonce is opaque to the protocol. It is signed but never interpreted.
		Nonce uint64
		// Timestamp is the unix time (seconds) of the originating event.
		Timestamp uint64
	}

	// OrderID is the 32-byte identifier of a lock or burn order.
	OrderID [32]byte

	// Address is a 32-byte chain-native address. 20-byte EVM addresses are stored in the low bytes.
	Address [32]byte

	// SignatureData is a recoverable secp256k1 signature, r || s || v.
	SignatureData [65]byte
)

const (
	// MessageLength is the size of the canonical encoding.
	MessageLength = 8 + 8 + 32 + 32 + 8 + 8 + 8

	// SignatureLength is the size of a recoverable signature.
	SignatureLength = 65
)

// Marshal returns the canonical encoding of the message:
//
//	sourceChainId u64 | destChainId u64 | orderId [32] | recipient [32] | amount u64 | nonce u64 | timestamp u64
//
// Integers are little-endian, which makes the encoding byte-identical to its Borsh serialization.
func (m *BridgeMessage) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(MessageLength)

	MustWrite(buf, binary.LittleEndian, m.SourceChainID)
	MustWrite(buf, binary.LittleEndian, m.DestChainID)
	buf.Write(m.OrderID[:])
	buf.Write(m.Recipient[:])
	MustWrite(buf, binary.LittleEndian, m.Amount)
	MustWrite(buf, binary.LittleEndian, m.Nonce)
	MustWrite(buf, binary.LittleEndian, m.Timestamp)

	return buf.Bytes()
}

// Unmarshal decodes a canonical encoding produced by Marshal.
func Unmarshal(data []byte) (*BridgeMessage, error) {
	if len(data) != MessageLength {
		return nil, fmt.Errorf("message is %d bytes, expected %d", len(data), MessageLength)
	}

	m := &BridgeMessage{}
	reader := bytes.NewReader(data)

	if err := binary.Read(reader, binary.LittleEndian, &m.SourceChainID); err != nil {
		return nil, fmt.Errorf("failed to read source chain id: %w", err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &m.DestChainID); err != nil {
		return nil, fmt.Errorf("failed to read destination chain id: %w", err)
	}
	if n, err := reader.Read(m.OrderID[:]); err != nil || n != len(m.OrderID) {
		return nil, fmt.Errorf("failed to read order id [%d]: %w", n, err)
	}
	if n, err := reader.Read(m.Recipient[:]); err != nil || n != len(m.Recipient) {
		return nil, fmt.Errorf("failed to read recipient [%d]: %w", n, err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &m.Amount); err != nil {
		return nil, fmt.Errorf("failed to read amount: %w", err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &m.Nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &m.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to read timestamp: %w", err)
	}

	return m, nil
}

// SigningDigest returns keccak256 of the canonical encoding. This is the value validators sign.
func (m *BridgeMessage) SigningDigest() common.Hash {
	return crypto.Keccak256Hash(m.Marshal())
}

// MessageID returns a human readable identifier: <source>/<destination>/<order id>.
func (m *BridgeMessage) MessageID() string {
	return fmt.Sprintf("%d/%d/%s", m.SourceChainID, m.DestChainID, m.OrderID)
}

// SignWith signs the message digest with the given key.
func (m *BridgeMessage) SignWith(key *ecdsa.PrivateKey) (SignatureData, error) {
	var sig SignatureData
	raw, err := crypto.Sign(m.SigningDigest().Bytes(), key)
	if err != nil {
		return sig, err
	}
	copy(sig[:], raw)
	return sig, nil
}

// NewOrderID derives the order id of the nonce-th order created by sender on a chain.
// Order ids are unique per source chain as long as the nonce never repeats.
func NewOrderID(chainID uint64, sender Address, nonce uint64) OrderID {
	buf := new(bytes.Buffer)
	MustWrite(buf, binary.BigEndian, chainID)
	buf.Write(sender[:])
	MustWrite(buf, binary.BigEndian, nonce)
	return OrderID(crypto.Keccak256Hash(buf.Bytes()))
}

func (o OrderID) String() string {
	return hex.EncodeToString(o[:])
}

func (o OrderID) Bytes() []byte {
	return o[:]
}

func (o OrderID) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, o)), nil
}

func (o *OrderID) UnmarshalJSON(data []byte) error {
	id, err := StringToOrderID(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*o = id
	return nil
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) Bytes() []byte {
	return a[:]
}

// EVM returns the low 20 bytes as an EVM address.
func (a Address) EVM() common.Address {
	return common.BytesToAddress(a[12:])
}

func (a Address) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, a)), nil
}

func (a *Address) UnmarshalJSON(data []byte) error {
	addr, err := StringToAddress(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

func (s SignatureData) String() string {
	return hex.EncodeToString(s[:])
}

func (s SignatureData) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, s)), nil
}

// AddressFromEVM left-pads a 20-byte EVM address.
func AddressFromEVM(addr common.Address) Address {
	var a Address
	copy(a[12:], addr.Bytes())
	return a
}

// BytesToAddress left-pads up to 32 bytes into an Address.
func BytesToAddress(b []byte) (Address, error) {
	var a Address
	if len(b) > len(a) {
		return a, fmt.Errorf("value must be no more than 32 bytes")
	}
	copy(a[len(a)-len(b):], b)
	return a, nil
}

// StringToAddress converts a hex-encoded address into an Address. Shorter values are left-padded.
func StringToAddress(value string) (Address, error) {
	b, err := decodeHex(value)
	if err != nil {
		return Address{}, err
	}
	return BytesToAddress(b)
}

// StringToOrderID converts a hex-encoded 32-byte order id.
func StringToOrderID(value string) (OrderID, error) {
	var id OrderID
	b, err := decodeHex(value)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("order id must be 32 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// BytesToSignature copies a 65-byte signature.
func BytesToSignature(b []byte) (SignatureData, error) {
	var sig SignatureData
	if len(b) != SignatureLength {
		return sig, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(b))
	}
	copy(sig[:], b)
	return sig, nil
}

func decodeHex(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "0x")
	if len(value) < 2 {
		return nil, fmt.Errorf("value must be at least 1 byte")
	}
	return hex.DecodeString(value)
}

// MustWrite calls binary.Write and panics on errors
func MustWrite(w io.Writer, order binary.ByteOrder, data interface{}) {
	if err := binary.Write(w, order, data); err != nil {
		panic(fmt.Errorf("failed to write binary data: %v", data).Error())
	}
}

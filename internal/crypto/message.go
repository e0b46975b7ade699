// Package crypto builds and signs the canonical binary order message shared
// with the on-chain settlement program's verifier. The encoding is a wire
// contract: field order, widths, and endianness must be reproduced
// bit-for-bit.
package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// DomainPrefix binds the message to this protocol and version so a signature
// can never be replayed against another program. Exactly 15 ASCII bytes.
const DomainPrefix = "DEGEN_ORDER_V1:"

// MessageSize is the fixed length of the canonical order message:
// 15-byte prefix + 32-byte market key + side + outcome + 4 little-endian
// 8-byte integers (price, size, expiry, client order id).
const MessageSize = 15 + 32 + 1 + 1 + 8 + 8 + 8 + 8

// OrderMessage carries the signed fields of an order.
type OrderMessage struct {
	MarketAddress string // base58-encoded 32-byte market account
	Side          domain.Side
	Outcome       domain.Outcome
	PriceTicks    int64 // price * 1e6
	SizeUnits     int64 // size * 1e6
	ExpiryTS      int64 // unix seconds
	ClientOrderID uint64
}

// Encode serializes the message into its canonical 81-byte form.
func (m OrderMessage) Encode() ([]byte, error) {
	marketKey, err := base58.Decode(m.MarketAddress)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode market address %q: %w", m.MarketAddress, err)
	}
	if len(marketKey) != 32 {
		return nil, fmt.Errorf("crypto: market address must decode to 32 bytes, got %d", len(marketKey))
	}
	if m.PriceTicks < 0 || m.SizeUnits < 0 {
		return nil, fmt.Errorf("crypto: price and size must be non-negative: %w", domain.ErrInvalidOrder)
	}

	buf := make([]byte, 0, MessageSize)
	buf = append(buf, []byte(DomainPrefix)...)
	buf = append(buf, marketKey...)
	buf = append(buf, sideByte(m.Side), outcomeByte(m.Outcome))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.PriceTicks))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.SizeUnits))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.ExpiryTS))
	buf = binary.LittleEndian.AppendUint64(buf, m.ClientOrderID)

	if len(buf) != MessageSize {
		// Guards the wire contract against future field edits.
		return nil, fmt.Errorf("crypto: encoded message is %d bytes, want %d", len(buf), MessageSize)
	}
	return buf, nil
}

// Decode parses a canonical order message. It rejects messages with the wrong
// length or domain prefix.
func Decode(raw []byte) (OrderMessage, error) {
	if len(raw) != MessageSize {
		return OrderMessage{}, fmt.Errorf("crypto: message is %d bytes, want %d", len(raw), MessageSize)
	}
	if string(raw[:15]) != DomainPrefix {
		return OrderMessage{}, fmt.Errorf("crypto: bad domain prefix %q", raw[:15])
	}

	m := OrderMessage{
		MarketAddress: base58.Encode(raw[15:47]),
	}

	switch raw[47] {
	case 0:
		m.Side = domain.SideBid
	case 1:
		m.Side = domain.SideAsk
	default:
		return OrderMessage{}, fmt.Errorf("crypto: bad side byte %d", raw[47])
	}
	switch raw[48] {
	case 0:
		m.Outcome = domain.OutcomeYes
	case 1:
		m.Outcome = domain.OutcomeNo
	default:
		return OrderMessage{}, fmt.Errorf("crypto: bad outcome byte %d", raw[48])
	}

	m.PriceTicks = int64(binary.LittleEndian.Uint64(raw[49:57]))
	m.SizeUnits = int64(binary.LittleEndian.Uint64(raw[57:65]))
	m.ExpiryTS = int64(binary.LittleEndian.Uint64(raw[65:73]))
	m.ClientOrderID = binary.LittleEndian.Uint64(raw[73:81])

	return m, nil
}

func sideByte(s domain.Side) byte {
	if s == domain.SideAsk {
		return 1
	}
	return 0
}

func outcomeByte(o domain.Outcome) byte {
	if o == domain.OutcomeNo {
		return 1
	}
	return 0
}

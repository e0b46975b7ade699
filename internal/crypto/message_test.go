package crypto

import (
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

var testMarketKey = base58.Encode(make([]byte, 32))

func testMessage() OrderMessage {
	return OrderMessage{
		MarketAddress: testMarketKey,
		Side:          domain.SideBid,
		Outcome:       domain.OutcomeYes,
		PriceTicks:    500_000,
		SizeUnits:     10_000_000,
		ExpiryTS:      1_700_000_000,
		ClientOrderID: 42,
	}
}

func TestOrderMessage_Encode(t *testing.T) {
	raw, err := testMessage().Encode()
	require.NoError(t, err)
	require.Len(t, raw, MessageSize)

	assert.Equal(t, DomainPrefix, string(raw[:15]))
	assert.Equal(t, make([]byte, 32), raw[15:47])
	assert.Equal(t, byte(0), raw[47], "bid encodes as 0")
	assert.Equal(t, byte(0), raw[48], "yes encodes as 0")
	assert.Equal(t, uint64(500_000), binary.LittleEndian.Uint64(raw[49:57]))
	assert.Equal(t, uint64(10_000_000), binary.LittleEndian.Uint64(raw[57:65]))
	assert.Equal(t, uint64(1_700_000_000), binary.LittleEndian.Uint64(raw[65:73]))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(raw[73:81]))
}

func TestOrderMessage_EncodeAskNo(t *testing.T) {
	m := testMessage()
	m.Side = domain.SideAsk
	m.Outcome = domain.OutcomeNo

	raw, err := m.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(1), raw[47])
	assert.Equal(t, byte(1), raw[48])
}

func TestOrderMessage_RoundTrip(t *testing.T) {
	want := testMessage()
	raw, err := want.Encode()
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecode_Rejects(t *testing.T) {
	t.Run("wrong length", func(t *testing.T) {
		_, err := Decode(make([]byte, MessageSize-1))
		assert.Error(t, err)
	})

	t.Run("bad prefix", func(t *testing.T) {
		raw, err := testMessage().Encode()
		require.NoError(t, err)
		raw[0] = 'X'
		_, err = Decode(raw)
		assert.Error(t, err)
	})
}

func TestOrderMessage_EncodeBadMarket(t *testing.T) {
	m := testMessage()
	m.MarketAddress = "tooshort"
	_, err := m.Encode()
	assert.Error(t, err)
}

func TestSigner_SignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	signer, err := NewSigner(base58.Encode(priv))
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(pub), signer.Address())

	sig, msg, err := signer.SignOrder(testMessage())
	require.NoError(t, err)

	require.NoError(t, VerifyOrder(signer.Address(), msg, sig))

	t.Run("wrong key fails", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		assert.Error(t, VerifyOrder(base58.Encode(otherPub), msg, sig))
	})

	t.Run("tampered message fails", func(t *testing.T) {
		tampered := testMessage()
		tampered.PriceTicks = 510_000
		_, tamperedMsg, err := signer.SignOrder(tampered)
		require.NoError(t, err)
		// Signature from the original message over the tampered body.
		assert.Error(t, VerifyOrder(signer.Address(), tamperedMsg, sig))
	})
}

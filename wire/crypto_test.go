package wire

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestNewSqueakSignsAndValidates(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sq, key, err := NewSqueak(priv, TestNet, []byte("hello world"),
		700000, [32]byte{1}, nil, 1700000000)
	require.NoError(t, err)
	require.Len(t, key, DecryptionKeySize)
	require.True(t, sq.Unlocked())

	require.NoError(t, sq.VerifySignature(TestNet))
	require.NoError(t, sq.Header.ValidateProofOfWork())
}

func TestDecryptRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sq, key, err := NewSqueak(priv, TestNet, []byte("hello world"),
		700000, [32]byte{1}, nil, 1700000000)
	require.NoError(t, err)

	content, err := sq.Decrypt(key)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(content))
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sq, _, err := NewSqueak(priv, TestNet,
		[]byte("a long enough plaintext that a wrong key cannot plausibly decrypt it to valid UTF-8"),
		700000, [32]byte{1}, nil, 1700000000)
	require.NoError(t, err)

	wrong := make([]byte, DecryptionKeySize)
	_, err = sq.Decrypt(wrong)
	require.Error(t, err)

	_, err = sq.Decrypt([]byte("short"))
	require.Error(t, err)
}

func TestSignRejectsTamperedSqueak(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	sq, _, err := NewSqueak(priv, TestNet, []byte("hello world"),
		700000, [32]byte{1}, nil, 1700000000)
	require.NoError(t, err)

	sq.EncryptedContent[0] ^= 0xff
	require.Error(t, sq.VerifySignature(TestNet))
}

func TestNewSqueakReplyLinksThread(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	root, _, err := NewSqueak(priv, TestNet, []byte("root"),
		700000, [32]byte{1}, nil, 1700000000)
	require.NoError(t, err)

	rootHash := root.Hash()
	reply, _, err := NewSqueak(priv, TestNet, []byte("reply"),
		700001, [32]byte{1}, &rootHash, 1700000060)
	require.NoError(t, err)

	require.NotNil(t, reply.PrevSqueakHash)
	require.Equal(t, rootHash, *reply.PrevSqueakHash)
}

package wallet

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Reference vectors from the ledger's reference implementation.
func TestSeedFromPassphraseVectors(t *testing.T) {
	testcases := []struct {
		name         string
		passphrase   string
		expectedSeed string
	}{
		{
			name:         "masterpassphrase",
			passphrase:   "masterpassphrase",
			expectedSeed: "snoPBrXtMeMyMHUVTgbuqAfg1SUTb",
		},
		{
			name:         "Non-Random Passphrase",
			passphrase:   "Non-Random Passphrase",
			expectedSeed: "snMKnVku798EnBwUfxeSD8953sLYA",
		},
		{
			name:         "cookies excitement hand public",
			passphrase:   "cookies excitement hand public",
			expectedSeed: "sspUXGrmjQhq6mgc24jiRuevZiwKT",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			seed, err := SeedFromPassphrase(tc.passphrase)
			require.NoError(t, err)
			require.Equal(t, tc.expectedSeed, seed)
		})
	}
}

func TestDecodeSeedRejectsInvalid(t *testing.T) {
	testcases := []struct {
		name string
		seed string
	}{
		{name: "empty", seed: ""},
		{name: "truncated", seed: "sspUXGrmjQhq6mgc24jiRuevZiwK"},
		{name: "extra char", seed: "sspUXGrmjQhq6mgc24jiRuevZiwKTT"},
		{name: "character outside alphabet", seed: "sspOXGrmjQhq6mgc24jiRuevZiwKT"},
		{name: "bad checksum", seed: "snoPBrXtMeMyMHUVTgbuqAfg1SUTa"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := DecodeSeed(tc.seed)
			require.ErrorIs(t, err, ErrInvalidSeed)
		})
	}
}

func TestSeedRoundTrip(t *testing.T) {
	for _, keyType := range []KeyType{SECP256K1, ED25519} {
		t.Run(keyType.String(), func(t *testing.T) {
			h := Sha512Half([]byte("roundtrip passphrase"))
			entropy := h[:SeedEntropySize]

			encoded, err := EncodeSeed(entropy, keyType)
			require.NoError(t, err)

			decoded, decodedType, err := DecodeSeed(encoded)
			require.NoError(t, err)
			require.Equal(t, entropy, decoded)
			require.Equal(t, keyType, decodedType)
		})
	}
}

func TestSeedPrefixDetection(t *testing.T) {
	_, keyType, err := DecodeSeed("snoPBrXtMeMyMHUVTgbuqAfg1SUTb")
	require.NoError(t, err)
	require.Equal(t, SECP256K1, keyType)

	_, keyType, err = DecodeSeed("sEdTzRkEgPoxDG1mJ6WkSucHWnMkm1H")
	require.NoError(t, err)
	require.Equal(t, ED25519, keyType)
}

// rippled account-key vectors for "masterpassphrase".
func TestSecp256k1DerivationVectors(t *testing.T) {
	h := Sha512Half([]byte("masterpassphrase"))
	entropy := h[:SeedEntropySize]

	priv, pub, err := DeriveKeypair(entropy, SECP256K1)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(priv, "00"))

	address, err := EncodeClassicAddressFromPublicKeyHex(pub)
	require.NoError(t, err)
	require.Equal(t, "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", address)

	pubBytes, err := hex.DecodeString(pub)
	require.NoError(t, err)
	accountPub, err := EncodeAccountPublicKey(pubBytes)
	require.NoError(t, err)
	require.Equal(t, "aBQG8RQAzjs1eTKFEAQXr2gS4utcDiEC9wmi7pfUPTi27VCahwgw", accountPub)
}

func TestEd25519DerivationVectors(t *testing.T) {
	h := Sha512Half([]byte("masterpassphrase"))
	entropy := h[:SeedEntropySize]

	priv, pub, err := DeriveKeypair(entropy, ED25519)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(priv, "ED"))
	require.True(t, strings.HasPrefix(pub, "ED"))

	address, err := EncodeClassicAddressFromPublicKeyHex(pub)
	require.NoError(t, err)
	require.Equal(t, "rGWrZyQqhTp9Xu7G5Pkayo7bXjH4k4QYpf", address)

	pubBytes, err := hex.DecodeString(pub)
	require.NoError(t, err)
	nodePub, err := EncodeNodePublicKey(pubBytes)
	require.NoError(t, err)
	require.Equal(t, "nHUeeJCSY2dM71oxM8Cgjouf5ekTuev2mwDpc374aLMxzDLXNmjf", nodePub)
}

func TestDeriveKeypairDeterministic(t *testing.T) {
	h := Sha512Half([]byte("masterpassphrase"))
	entropy := h[:SeedEntropySize]

	for _, keyType := range []KeyType{SECP256K1, ED25519} {
		t.Run(keyType.String(), func(t *testing.T) {
			priv1, pub1, err := DeriveKeypair(entropy, keyType)
			require.NoError(t, err)
			priv2, pub2, err := DeriveKeypair(entropy, keyType)
			require.NoError(t, err)
			require.Equal(t, priv1, priv2)
			require.Equal(t, pub1, pub2)
		})
	}
}

func TestFromSeed(t *testing.T) {
	seed, err := SeedFromPassphrase("masterpassphrase")
	require.NoError(t, err)

	w, err := FromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, SECP256K1, w.KeyType)
	require.Equal(t, "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", w.Address)

	_, err = FromSeed("not a seed")
	require.ErrorIs(t, err, ErrInvalidSeed)
}

func TestGenerateSeed(t *testing.T) {
	seed, err := GenerateSeed(ED25519)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(seed, "sEd"))

	w, err := FromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, ED25519, w.KeyType)
	require.True(t, strings.HasPrefix(w.Address, "r"))
}

func TestEd25519KeysStableForBothFamilies(t *testing.T) {
	// The channel keypair depends only on entropy, not on the family the
	// seed encodes.
	h := Sha512Half([]byte("channel derivation"))
	entropy := h[:SeedEntropySize]

	secpSeed, err := EncodeSeed(entropy, SECP256K1)
	require.NoError(t, err)
	edSeed, err := EncodeSeed(entropy, ED25519)
	require.NoError(t, err)

	pub1, priv1, err := Ed25519Keys(secpSeed)
	require.NoError(t, err)
	pub2, priv2, err := Ed25519Keys(edSeed)
	require.NoError(t, err)

	require.Equal(t, pub1, pub2)
	require.Equal(t, priv1, priv2)
	require.Len(t, []byte(pub1), 32)
}

func TestClassicAddressRoundTrip(t *testing.T) {
	var id [20]byte
	for i := range id {
		id[i] = byte(i * 7)
	}
	addr := EncodeClassicAddress(id)
	require.True(t, strings.HasPrefix(addr, "r"))

	back, err := DecodeClassicAddress(addr)
	require.NoError(t, err)
	require.Equal(t, id, back)

	_, err = DecodeClassicAddress("rInvalidAddress")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

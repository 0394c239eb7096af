package eigrp

import (
	"crypto/md5"
	"crypto/subtle"
	"fmt"

	"github.com/davidbalbert/eigrpd/config"
)

// KeychainAuthenticator signs with the lowest numbered key in a keychain and
// accepts a digest made with any key whose ID matches.
type KeychainAuthenticator struct {
	keychains map[string]config.Keychain
}

func NewKeychainAuthenticator(keychains map[string]config.Keychain) *KeychainAuthenticator {
	return &KeychainAuthenticator{keychains: keychains}
}

func (a *KeychainAuthenticator) SigningKey(keychain string) (uint32, error) {
	kc, ok := a.keychains[keychain]
	if !ok {
		return 0, fmt.Errorf("unknown keychain: %s", keychain)
	}

	k, ok := kc.Primary()
	if !ok {
		return 0, fmt.Errorf("keychain %s: no keys", keychain)
	}

	return k.ID, nil
}

func (a *KeychainAuthenticator) key(keychain string, id uint32) (config.Key, bool) {
	for _, k := range a.keychains[keychain].Keys {
		if k.ID == id {
			return k, true
		}
	}
	return config.Key{}, false
}

func (a *KeychainAuthenticator) Sign(keychain string, keyID uint32, pkt []byte) ([AuthDigestLen]byte, error) {
	k, ok := a.key(keychain, keyID)
	if !ok {
		return [AuthDigestLen]byte{}, fmt.Errorf("keychain %s: no key %d", keychain, keyID)
	}

	return md5Digest(k.Secret, pkt), nil
}

func (a *KeychainAuthenticator) Verify(keychain string, keyID uint32, pkt []byte, digest [AuthDigestLen]byte) bool {
	k, ok := a.key(keychain, keyID)
	if !ok {
		return false
	}

	d := md5Digest(k.Secret, pkt)
	return subtle.ConstantTimeCompare(d[:], digest[:]) == 1
}

// md5Digest hashes the secret, zero padded or truncated to 16 bytes,
// followed by the packet.
func md5Digest(secret string, pkt []byte) [AuthDigestLen]byte {
	var key [16]byte
	copy(key[:], secret)

	h := md5.New()
	h.Write(key[:])
	h.Write(pkt)

	var d [AuthDigestLen]byte
	copy(d[:], h.Sum(nil))
	return d
}

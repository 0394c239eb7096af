package config

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type Key struct {
	ID     uint32
	Secret string
}

// Keychain is a named set of shared secrets. Keys are ordered by ID.
type Keychain struct {
	Name string
	Keys []Key
}

func (kc Keychain) copy() Keychain {
	return Keychain{Name: kc.Name, Keys: slices.Clone(kc.Keys)}
}

// Primary is the key used for signing: the one with the lowest ID.
func (kc Keychain) Primary() (Key, bool) {
	if len(kc.Keys) == 0 {
		return Key{}, false
	}
	return kc.Keys[0], true
}

func parseKeychain(name string, data map[string]interface{}) (Keychain, error) {
	kc := Keychain{Name: name}

	prefix := "keychain " + name

	for k, v := range data {
		if !strings.HasPrefix(k, "key ") {
			return Keychain{}, fmt.Errorf("%s: unknown key: %s", prefix, k)
		}

		id, err := strconv.ParseUint(strings.TrimPrefix(k, "key "), 10, 32)
		if err != nil || id == 0 {
			return Keychain{}, fmt.Errorf("%s: key id must be a positive 32 bit integer: %s", prefix, k)
		}

		secret, ok := v.(string)
		if !ok || secret == "" {
			return Keychain{}, fmt.Errorf("%s: %s must be a non-empty string", prefix, k)
		}

		kc.Keys = append(kc.Keys, Key{ID: uint32(id), Secret: secret})
	}

	if len(kc.Keys) == 0 {
		return Keychain{}, fmt.Errorf("%s: no keys", prefix)
	}

	slices.SortFunc(kc.Keys, func(a, b Key) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return kc, nil
}

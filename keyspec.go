package reactkv

import (
	"strconv"
	"strings"
)

// KeySpec is what a subscription watches: one exact key or every key under a
// collection prefix.
type KeySpec struct {
	key        string
	collection bool
}

func Exact(key string) KeySpec         { return KeySpec{key: key} }
func Collection(prefix string) KeySpec { return KeySpec{key: prefix, collection: true} }

func (s KeySpec) Key() string        { return s.key }
func (s KeySpec) IsCollection() bool { return s.collection }

// Matches reports whether a change to key concerns this spec.
func (s KeySpec) Matches(key string) bool {
	if s.collection {
		return strings.HasPrefix(key, s.key)
	}
	return key == s.key
}

func (s KeySpec) String() string {
	if s.collection {
		return "collection(" + strconv.Quote(s.key) + ")"
	}
	return strconv.Quote(s.key)
}

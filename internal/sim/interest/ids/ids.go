// Package ids holds the identifier types shared by the interest engine.
package ids

import (
	"strconv"
	"strings"
)

// Entity identifies a replicated entity (player avatar, creature, crop).
type Entity uint64

// Observer identifies a connected viewer. It is deliberately a different
// type from Entity: a player's observer id and avatar id are unrelated, and a
// spectator has no avatar at all.
type Observer uint64

// NoEntity marks an observer that controls nothing.
const NoEntity Entity = 0

func (e Entity) String() string   { return "E" + strconv.FormatUint(uint64(e), 10) }
func (o Observer) String() string { return "O" + strconv.FormatUint(uint64(o), 10) }

func ParseEntity(s string) (Entity, bool) {
	n, ok := parseAfterPrefix("E", s)
	return Entity(n), ok && n != 0
}

func ParseObserver(s string) (Observer, bool) {
	n, ok := parseAfterPrefix("O", s)
	return Observer(n), ok && n != 0
}

func parseAfterPrefix(prefix, id string) (uint64, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(id[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

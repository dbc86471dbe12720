package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
)

// stateDigest hashes the authoritative state: regions and every entity in
// id order. Sessions and interest bookkeeping are not part of it.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	putU64(h, &tmp, nowTick)
	putU64(h, &tmp, uint64(w.cfg.Seed))
	putU64(h, &tmp, math.Float64bits(w.timeOfDay))
	for _, c := range w.engine.Regions() {
		putU64(h, &tmp, uint64(int64(c.X)))
		putU64(h, &tmp, uint64(int64(c.Y)))
	}
	for _, id := range w.sortedEntities() {
		e := w.entities[id]
		putU64(h, &tmp, uint64(e.ID))
		h.Write([]byte(e.Class))
		h.Write([]byte{0})
		h.Write([]byte(e.Name))
		h.Write([]byte{0})
		for _, f := range [...]float64{e.Pos[0], e.Pos[1], e.Yaw, e.Pitch} {
			putU64(h, &tmp, math.Float64bits(f))
		}
		putU64(h, &tmp, uint64(e.Age))
		putU64(h, &tmp, uint64(int64(e.Tile[0])))
		putU64(h, &tmp, uint64(int64(e.Tile[1])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func putU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

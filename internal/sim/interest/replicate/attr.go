package replicate

import (
	"fmt"

	"regionsync.io/internal/protocol"
)

// AttrKind enumerates every replicated attribute. Adding a kind means adding
// a case to Delivery and String; there is no open-ended property bag.
type AttrKind uint8

const (
	AttrPosition AttrKind = iota + 1
	AttrYaw
	AttrPitch
	AttrName
	AttrClass
	AttrAge
	AttrTile
)

var allKinds = [...]AttrKind{AttrPosition, AttrYaw, AttrPitch, AttrName, AttrClass, AttrAge, AttrTile}

func (k AttrKind) String() string {
	switch k {
	case AttrPosition:
		return "position"
	case AttrYaw:
		return "yaw"
	case AttrPitch:
		return "pitch"
	case AttrName:
		return "name"
	case AttrClass:
		return "class"
	case AttrAge:
		return "age"
	case AttrTile:
		return "tile"
	default:
		return fmt.Sprintf("attr(%d)", uint8(k))
	}
}

// Delivery is the transport class for updates of k. Continuous values are
// superseded by the next tick and go unreliable; discrete ones must arrive.
func (k AttrKind) Delivery() protocol.Delivery {
	switch k {
	case AttrPosition, AttrYaw, AttrPitch:
		return protocol.Unreliable
	case AttrName, AttrClass, AttrAge, AttrTile:
		return protocol.Reliable
	default:
		return protocol.Reliable
	}
}

// ParseKind is the inverse of String.
func ParseKind(s string) (AttrKind, bool) {
	for _, k := range allKinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Attr is one attribute value. Only the field matching Kind is meaningful.
type Attr struct {
	Kind AttrKind
	Vec  [2]float64
	Num  float64
	Text string
	Int  int64
	Cell [2]int
}

func Position(x, y float64) Attr { return Attr{Kind: AttrPosition, Vec: [2]float64{x, y}} }
func Yaw(v float64) Attr         { return Attr{Kind: AttrYaw, Num: v} }
func Pitch(v float64) Attr       { return Attr{Kind: AttrPitch, Num: v} }
func Name(s string) Attr         { return Attr{Kind: AttrName, Text: s} }
func Class(id string) Attr       { return Attr{Kind: AttrClass, Text: id} }
func Age(n int64) Attr           { return Attr{Kind: AttrAge, Int: n} }
func Tile(x, y int) Attr         { return Attr{Kind: AttrTile, Cell: [2]int{x, y}} }

// Value is the wire value for a.
func (a Attr) Value() any {
	switch a.Kind {
	case AttrPosition:
		return a.Vec
	case AttrYaw, AttrPitch:
		return a.Num
	case AttrName, AttrClass:
		return a.Text
	case AttrAge:
		return a.Int
	case AttrTile:
		return a.Cell
	default:
		return nil
	}
}

func (a Attr) Wire() protocol.AttrValue {
	return protocol.AttrValue{Attr: a.Kind.String(), Value: a.Value()}
}

// State is an entity's full replicated state, as carried by a spawn.
type State []Attr

// Get returns the attribute of kind k, if present.
func (s State) Get(k AttrKind) (Attr, bool) {
	for _, a := range s {
		if a.Kind == k {
			return a, true
		}
	}
	return Attr{}, false
}

func (s State) Wire() []protocol.AttrValue {
	out := make([]protocol.AttrValue, 0, len(s))
	for _, a := range s {
		out = append(out, a.Wire())
	}
	return out
}

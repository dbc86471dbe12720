package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	// client -> server
	TypeHello     = "HELLO"
	TypeInput     = "INPUT"
	TypeSetName   = "SET_NAME"
	TypeSubscribe = "SUBSCRIBE"

	// server -> client
	TypeWelcome      = "WELCOME"
	TypeLoadRegion   = "LOAD_REGION"
	TypeUnloadRegion = "UNLOAD_REGION"
	TypeSpawn        = "SPAWN_ENTITY"
	TypeDespawn      = "DESPAWN_ENTITY"
	TypeAttrUpdate   = "ATTR_UPDATE"
	TypeClassDef     = "CLASS_DEF"
	TypeTimeOfDay    = "TIME_OF_DAY"
	TypeError        = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

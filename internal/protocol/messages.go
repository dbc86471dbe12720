package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type" jsonschema:"enum=HELLO"`
	ProtocolVersion string `json:"protocol_version"`
	Name            string `json:"name"`
	// Encoding selects the server->client frame format: "json" (text frames,
	// default) or "msgpack" (binary frames).
	Encoding string     `json:"encoding,omitempty" jsonschema:"enum=json,enum=msgpack"`
	MaxQueue int        `json:"max_queue,omitempty"`
	ViewSide int        `json:"view_side,omitempty"`
	Auth     *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type" jsonschema:"enum=WELCOME"`
	ProtocolVersion string      `json:"protocol_version"`
	ObserverID      string      `json:"observer_id"`
	EntityID        string      `json:"entity_id,omitempty"`
	ResumeToken     string      `json:"resume_token,omitempty"`
	WorldParams     WorldParams `json:"world_params"`
	ClassesDigest   string      `json:"classes_digest,omitempty"`
}

type WorldParams struct {
	WorldID        string  `json:"world_id"`
	TickRateHz     int     `json:"tick_rate_hz"`
	RegionSize     int     `json:"region_size"`
	GridHalfExtent int     `json:"grid_half_extent"`
	ViewSide       int     `json:"view_side"`
	TimeOfDay      float64 `json:"time_of_day,omitempty"`
	DaySpeed       float64 `json:"day_speed,omitempty"`
}

// INPUT (client -> server). Seq must strictly increase per connection;
// anything else is dropped.
type InputMsg struct {
	Type      string     `json:"type" jsonschema:"enum=INPUT"`
	Seq       uint64     `json:"seq"`
	Direction [2]float64 `json:"direction"`
	Yaw       float64    `json:"yaw"`
	Pitch     float64    `json:"pitch"`
}

// SET_NAME (client -> server)
type SetNameMsg struct {
	Type string `json:"type" jsonschema:"enum=SET_NAME"`
	Seq  uint64 `json:"seq"`
	Name string `json:"name"`
}

// SUBSCRIBE (spectator -> server). First message on the spectator
// connection; may be re-sent to move the window.
type SubscribeMsg struct {
	Type            string `json:"type" jsonschema:"enum=SUBSCRIBE"`
	ProtocolVersion string `json:"protocol_version"`
	Center          [2]int `json:"center"`
	ViewSide        int    `json:"view_side,omitempty"`
}

// LOAD_REGION (server -> client, reliable): materialize an empty placeholder.
type LoadRegionMsg struct {
	Type   string `json:"type" jsonschema:"enum=LOAD_REGION"`
	Region [2]int `json:"region"`
}

// UNLOAD_REGION (server -> client, reliable): tear down the region and every
// placeholder inside it.
type UnloadRegionMsg struct {
	Type   string `json:"type" jsonschema:"enum=UNLOAD_REGION"`
	Region [2]int `json:"region"`
}

// SPAWN_ENTITY (server -> client, reliable): full-state snapshot.
type SpawnEntityMsg struct {
	Type   string      `json:"type" jsonschema:"enum=SPAWN_ENTITY"`
	Entity string      `json:"entity"`
	Attrs  []AttrValue `json:"attrs"`
}

// DESPAWN_ENTITY (server -> client, reliable)
type DespawnEntityMsg struct {
	Type   string `json:"type" jsonschema:"enum=DESPAWN_ENTITY"`
	Entity string `json:"entity"`
}

// ATTR_UPDATE (server -> client). Delivery depends on the attribute.
// Tick orders unreliable updates: clients keep the highest tick per
// (entity, attr).
type AttrUpdateMsg struct {
	Type   string `json:"type" jsonschema:"enum=ATTR_UPDATE"`
	Tick   uint64 `json:"tick"`
	Entity string `json:"entity"`
	Attr   string `json:"attr"`
	Value  any    `json:"value"`
}

type AttrValue struct {
	Attr  string `json:"attr"`
	Value any    `json:"value"`
}

// CLASS_DEF (server -> client, reliable): sent the first time a client sees
// an entity of a class.
type ClassDefMsg struct {
	Type  string `json:"type" jsonschema:"enum=CLASS_DEF"`
	Class string `json:"class"`
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

// TIME_OF_DAY (server -> every client, unreliable). Hour is in [0, 24);
// DaySpeed is game seconds per real second, so clients can interpolate
// between broadcasts.
type TimeOfDayMsg struct {
	Type     string  `json:"type" jsonschema:"enum=TIME_OF_DAY"`
	Tick     uint64  `json:"tick"`
	Hour     float64 `json:"hour"`
	DaySpeed float64 `json:"day_speed"`
}

type ErrorMsg struct {
	Type            string `json:"type" jsonschema:"enum=ERROR"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

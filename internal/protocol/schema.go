package protocol

import (
	"github.com/invopop/jsonschema"
)

// Schemas reflects a JSON schema for every wire message, keyed by file name.
func Schemas() map[string]*jsonschema.Schema {
	r := jsonschema.Reflector{}
	out := map[string]*jsonschema.Schema{}
	add := func(name, title string, v any) {
		s := r.Reflect(v)
		s.Title = title
		out[name] = s
	}
	add("hello.schema.json", "HELLO", &HelloMsg{})
	add("welcome.schema.json", "WELCOME", &WelcomeMsg{})
	add("input.schema.json", "INPUT", &InputMsg{})
	add("set_name.schema.json", "SET_NAME", &SetNameMsg{})
	add("subscribe.schema.json", "SUBSCRIBE", &SubscribeMsg{})
	add("load_region.schema.json", "LOAD_REGION", &LoadRegionMsg{})
	add("unload_region.schema.json", "UNLOAD_REGION", &UnloadRegionMsg{})
	add("spawn_entity.schema.json", "SPAWN_ENTITY", &SpawnEntityMsg{})
	add("despawn_entity.schema.json", "DESPAWN_ENTITY", &DespawnEntityMsg{})
	add("attr_update.schema.json", "ATTR_UPDATE", &AttrUpdateMsg{})
	add("class_def.schema.json", "CLASS_DEF", &ClassDefMsg{})
	add("time_of_day.schema.json", "TIME_OF_DAY", &TimeOfDayMsg{})
	add("error.schema.json", "ERROR", &ErrorMsg{})
	return out
}

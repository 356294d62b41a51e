package config

import "encoding/json"

// ChangedSections reports which top-level sections differ between two
// configs. Used only for human-friendly reload logging, so a cheap
// JSON-compare per section is fine.
func ChangedSections(prev, next *Config) []string {
	if prev == nil || next == nil {
		return nil
	}
	var out []string
	if !sameJSON(prev.Telegram, next.Telegram) {
		out = append(out, "telegram")
	}
	if !sameJSON(prev.Logging, next.Logging) {
		out = append(out, "logging")
	}
	if !sameJSON(prev.Storage, next.Storage) {
		out = append(out, "storage")
	}
	if !sameJSON(prev.Scheduler, next.Scheduler) {
		out = append(out, "scheduler")
	}
	if !sameJSON(prev.Health, next.Health) {
		out = append(out, "health")
	}
	return out
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}

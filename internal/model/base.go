package model

// AlarmFilter narrows the armed-alarm listing.
type AlarmFilter struct {
	Kind     AlarmKind     `json:"kind" form:"kind" binding:"omitempty,oneof=personal public"`
	Priority AlarmPriority `json:"priority" form:"priority" binding:"omitempty,oneof=normal high"`
}

// Match reports whether a passes every set filter field.
func (f AlarmFilter) Match(a Alarm) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	return true
}

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}

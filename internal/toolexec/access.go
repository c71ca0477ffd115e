package toolexec

// AccessTable maps caller roles to the tools they may call. A nil or empty
// table allows everything. Roles missing from the table use the "*" entry,
// and are denied when there is none.
type AccessTable struct {
	roles map[string]map[string]bool
}

// NewAccessTable builds a table from role -> tool names. "*" as a tool name allows all tools.
func NewAccessTable(roles map[string][]string) *AccessTable {
	t := &AccessTable{roles: make(map[string]map[string]bool, len(roles))}
	for role, names := range roles {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		t.roles[role] = set
	}
	return t
}

// Allowed reports whether role may call tool.
func (t *AccessTable) Allowed(role, tool string) bool {
	if t == nil || len(t.roles) == 0 {
		return true
	}
	set, ok := t.roles[role]
	if !ok {
		if set, ok = t.roles["*"]; !ok {
			return false
		}
	}
	return set["*"] || set[tool]
}

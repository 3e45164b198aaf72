package analysis

// ContextInfo is a serializable view of one context.
type ContextInfo struct {
	ID         int      `yaml:"id" json:"id"`
	Kind       string   `yaml:"kind" json:"kind"`
	Entity     string   `yaml:"entity,omitempty" json:"entity,omitempty"`
	Navigation string   `yaml:"navigation,omitempty" json:"navigation,omitempty"`
	Role       string   `yaml:"role,omitempty" json:"role,omitempty"`
	Parents    []int    `yaml:"parents,omitempty" json:"parents,omitempty"`
	Tracking   bool     `yaml:"tracking" json:"tracking"`
	FullLoad   bool     `yaml:"fullLoad,omitempty" json:"fullLoad,omitempty"`
	Accessed   []string `yaml:"accessed,omitempty" json:"accessed,omitempty"`
}

// Describe returns the graph in arena order.
func (g *Graph) Describe() []ContextInfo {
	infos := make([]ContextInfo, len(g.contexts))
	for i, c := range g.contexts {
		info := ContextInfo{
			ID:       int(c.ID),
			Kind:     c.Kind.String(),
			Role:     c.Role.String(),
			Tracking: g.tracking[i],
			FullLoad: g.full[i],
		}
		if c.Entity != nil {
			info.Entity = c.Entity.Name
		}
		if c.Navigation != nil {
			info.Navigation = c.Navigation.String()
		}
		for _, p := range c.Parents {
			info.Parents = append(info.Parents, int(p))
		}
		for _, m := range c.Accessed {
			info.Accessed = append(info.Accessed, m.String())
		}
		infos[i] = info
	}
	return infos
}

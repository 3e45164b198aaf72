package engine

import (
	"github.com/hanpama/computed/internal/analysis"
)

// MemberInfo is a serializable view of a registered computed member.
type MemberInfo struct {
	Member     string                 `yaml:"member" json:"member"`
	Strategy   string                 `yaml:"strategy" json:"strategy"`
	Expression string                 `yaml:"expression" json:"expression"`
	Filter     string                 `yaml:"filter,omitempty" json:"filter,omitempty"`
	Affected   string                 `yaml:"affected" json:"affected"`
	Observes   []string               `yaml:"observes,omitempty" json:"observes,omitempty"`
	Dependents []string               `yaml:"dependents,omitempty" json:"dependents,omitempty"`
	Contexts   []analysis.ContextInfo `yaml:"contexts" json:"contexts"`
}

func (c *ComputedMember[V, R]) Describe() MemberInfo {
	p := c.provider
	info := MemberInfo{
		Member:     c.String(),
		Strategy:   p.strategy.Name(),
		Expression: p.artifact.Key,
		Affected:   p.affected.String(),
		Contexts:   p.artifact.Result.Graph.Describe(),
	}
	if p.filter != nil {
		info.Filter = p.filter.Key
	}
	for _, m := range c.observes {
		info.Observes = append(info.Observes, m.String())
	}
	for _, d := range c.dependents {
		info.Dependents = append(info.Dependents, d.String())
	}
	return info
}

// Describe finalizes the engine and describes its computed members in
// update order.
func (e *Engine) Describe() ([]MemberInfo, error) {
	if err := e.Finalize(); err != nil {
		return nil, err
	}
	members := e.Members()
	infos := make([]MemberInfo, len(members))
	for i, m := range members {
		infos[i] = m.Describe()
	}
	return infos, nil
}

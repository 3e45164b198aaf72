package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/computed/internal/memstore"
)

// fixture seeds an in-memory store and describes one write batch against it.
type fixture struct {
	Entities []fixtureEntity `yaml:"entities"`
	Changes  []fixtureChange `yaml:"changes"`
	// Check lists the computed members whose stored values are compared with
	// a recomputation after the batch. Empty means every member.
	Check []string `yaml:"check"`
}

type fixtureEntity struct {
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id"`
	Values map[string]any `yaml:"values"`
	// Links maps reference navigations to a target key.
	Links map[string]string `yaml:"links"`
	// Items maps collection navigations to member keys.
	Items map[string][]string `yaml:"items"`
}

// fixtureChange is one write. Entity and Target are keys of the form Type:id.
//
//	op: add          entity, values
//	op: set          entity, member, value
//	op: link         entity, member, target (empty target clears the reference)
//	op: add_to       entity, member, target
//	op: remove_from  entity, member, target
//	op: delete       entity
type fixtureChange struct {
	Op     string         `yaml:"op"`
	Entity string         `yaml:"entity"`
	Member string         `yaml:"member"`
	Value  any            `yaml:"value"`
	Target string         `yaml:"target"`
	Values map[string]any `yaml:"values"`
}

func readFixture(path string) (*fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fx fixture
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &fx, nil
}

func parseKey(key string) (typ, id string, err error) {
	typ, id, ok := strings.Cut(key, ":")
	if !ok || typ == "" || id == "" {
		return "", "", fmt.Errorf("entity key %q is not of the form Type:id", key)
	}
	return typ, id, nil
}

func lookup(s *memstore.Store, key string) (*memstore.Record, error) {
	typ, id, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	rec := s.Get(typ, id)
	if rec == nil {
		return nil, fmt.Errorf("entity %s does not exist", key)
	}
	return rec, nil
}

// seed adds every fixture entity, then links them.
func (fx *fixture) seed(s *memstore.Store) error {
	for _, ent := range fx.Entities {
		if _, err := s.Add(ent.Type, ent.ID, ent.Values); err != nil {
			return err
		}
	}
	for _, ent := range fx.Entities {
		rec := s.Get(ent.Type, ent.ID)
		for nav, target := range ent.Links {
			t, err := lookup(s, target)
			if err != nil {
				return err
			}
			if err := s.Link(rec, nav, t); err != nil {
				return err
			}
		}
		for nav, items := range ent.Items {
			for _, item := range items {
				child, err := lookup(s, item)
				if err != nil {
					return err
				}
				if err := s.AddTo(rec, nav, child); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c fixtureChange) apply(s *memstore.Store) error {
	if c.Op == "add" {
		typ, id, err := parseKey(c.Entity)
		if err != nil {
			return err
		}
		_, err = s.Add(typ, id, c.Values)
		return err
	}

	rec, err := lookup(s, c.Entity)
	if err != nil {
		return err
	}
	var target *memstore.Record
	if c.Target != "" {
		if target, err = lookup(s, c.Target); err != nil {
			return err
		}
	}
	switch c.Op {
	case "set":
		return s.Set(rec, c.Member, c.Value)
	case "link":
		return s.Link(rec, c.Member, target)
	case "add_to", "remove_from":
		if target == nil {
			return fmt.Errorf("%s on %s.%s needs a target", c.Op, c.Entity, c.Member)
		}
		if c.Op == "add_to" {
			return s.AddTo(rec, c.Member, target)
		}
		return s.RemoveFrom(rec, c.Member, target)
	case "delete":
		return s.Delete(rec)
	default:
		return fmt.Errorf("unknown change op %q", c.Op)
	}
}

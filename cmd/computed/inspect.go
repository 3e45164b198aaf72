package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hanpama/computed/internal/engine"
)

var inspectMembers []string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the analysis of computed members as YAML",
	Long: `Print, for each computed member in update order, its strategy, the
members it observes, the computed members depending on it, the provider of
affected entities and the entity context graph of its expression.`,
	Example: `  # Inspect every computed member
  computed inspect

  # Inspect selected members
  computed inspect --member Person.petCount --member Person.fullName`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, e, err := loadEngine()
		if err != nil {
			return err
		}
		infos, err := e.Describe()
		if err != nil {
			return modelError("describing computed members", err)
		}
		if len(inspectMembers) > 0 {
			infos, err = selectMembers(infos, inspectMembers)
			if err != nil {
				return err
			}
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(infos); err != nil {
			return generalError("encoding YAML", err)
		}
		return enc.Close()
	},
}

func init() {
	inspectCmd.Flags().StringSliceVar(&inspectMembers, "member", nil, "computed member to inspect as Entity.field (repeatable)")
}

func selectMembers(infos []engine.MemberInfo, names []string) ([]engine.MemberInfo, error) {
	byName := make(map[string]engine.MemberInfo, len(infos))
	for _, info := range infos {
		byName[info.Member] = info
	}
	out := make([]engine.MemberInfo, 0, len(names))
	for _, name := range names {
		info, ok := byName[name]
		if !ok {
			return nil, generalError(fmt.Sprintf("%s is not a computed member", name), nil)
		}
		out = append(out, info)
	}
	return out, nil
}

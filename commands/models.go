package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newModelsCommand(g *globalOptions) *cobra.Command {
	var initPath string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show resolved model capability chains and endpoint health",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(g)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if initPath != "" {
				if err := rt.registry.SaveToFile(initPath); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote registry to %s\n", initPath)
				return nil
			}

			fmt.Fprintln(out, "Capabilities:")
			for _, cap := range rt.registry.ListCapabilities() {
				chain := rt.registry.GetFallbackChain(cap)
				available := rt.registry.GetAvailableFallbackChain(cap)
				fmt.Fprintf(out, "  %-10s %s", cap, strings.Join(chain, " -> "))
				if len(available) < len(chain) {
					fmt.Fprintf(out, "  (available: %s)", strings.Join(available, " -> "))
				}
				fmt.Fprintln(out)
			}

			fmt.Fprintln(out, "\nEndpoints:")
			names := rt.registry.ListEndpoints()
			sort.Strings(names)
			for _, name := range names {
				ep := rt.registry.GetEndpoint(name)
				if ep == nil {
					continue
				}
				status := "available"
				if health := rt.registry.GetEndpointHealth(name); health != nil {
					if health.CircuitOpen {
						status = fmt.Sprintf("circuit open (%d failures)", health.FailureCount)
					} else if !health.Available {
						status = "unavailable"
					}
				}
				fmt.Fprintf(out, "  %-16s %-10s %-28s %s\n", name, ep.Provider, ep.Model, status)
			}

			fmt.Fprintf(out, "\nSubject model for this config: %s\n", rt.cfg.Model)
			if rt.cfg.JudgeModel != "" {
				fmt.Fprintf(out, "Judge model for this config: %s\n", rt.cfg.JudgeModel)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&initPath, "init", "", "write the active registry to a JSON file for editing")
	return cmd
}

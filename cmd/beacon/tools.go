package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/beacon/internal/config"
	"github.com/haasonsaas/beacon/internal/mcp"
	"github.com/haasonsaas/beacon/internal/tools"
	"github.com/haasonsaas/beacon/internal/tools/profile"
	"github.com/haasonsaas/beacon/internal/tools/websearch"
)

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and invoke the tool catalog",
	}
	cmd.AddCommand(buildToolsListCmd(), buildToolsCallCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Discover and list all available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, cleanup, err := openRegistry(cmd, configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, tool := range registry.Tools() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n    %s\n", tool.Name(), tool.Description())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "beacon.yaml", "Path to YAML configuration file")
	return cmd
}

func buildToolsCallCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Invoke a single tool and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, cleanup, err := openRegistry(cmd, configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			toolArgs := json.RawMessage(`{}`)
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("arguments are not valid JSON")
				}
				toolArgs = json.RawMessage(args[1])
			}

			result := registry.Execute(cmd.Context(), args[0], toolArgs)
			fmt.Fprintln(cmd.OutOrStdout(), result.Content)
			if result.IsError {
				return fmt.Errorf("tool %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "beacon.yaml", "Path to YAML configuration file")
	return cmd
}

// openRegistry builds the same catalog serve offers: discovered tool-server
// tools plus the built-ins.
func openRegistry(cmd *cobra.Command, configPath string) (*tools.Registry, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Logging, false)

	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	manager := mcp.NewManager(cfg.ToolServers, logger)
	manager.Discover(cmd.Context())

	registry := tools.NewRegistry(manager, logger)
	registry.Register(websearch.New(websearch.Config{}))
	registry.Register(profile.New(st))

	return registry, func() { _ = st.Close() }, nil
}

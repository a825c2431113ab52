package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	agingconfig "github.com/agingbench/core/pkg/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load the function/project config pair and report errors without starting anything",
	RunE:  runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	if functionConfigPath == "" || projectConfigPath == "" {
		return fmt.Errorf("validate-config: --function-config and --project-config are required")
	}

	fnCfg, err := agingconfig.LoadFunctionConfig(functionConfigPath)
	if err != nil {
		return fmt.Errorf("validate-config: function config: %w", err)
	}
	prjCfg, err := agingconfig.LoadProjectConfig(projectConfigPath)
	if err != nil {
		return fmt.Errorf("validate-config: project config: %w", err)
	}

	if fnCfg.UI.SlotsPerGroup <= 0 {
		return fmt.Errorf("validate-config: ui.slots_per_group must be positive")
	}
	if fnCfg.CAN.Interface == "" {
		return fmt.Errorf("validate-config: can.interface must be set")
	}
	if prjCfg.Name == "" {
		return fmt.Errorf("validate-config: project name must be set")
	}

	seen := make(map[uint16]bool, len(prjCfg.Diagnostic.DIDs))
	for _, d := range prjCfg.Diagnostic.DIDs {
		if seen[d.ID] {
			return fmt.Errorf("validate-config: duplicate DID %#x in project %s", d.ID, prjCfg.Name)
		}
		seen[d.ID] = true
	}

	fmt.Printf("ok: function config %q, project %q (%d slots, %d DIDs, %d TX messages)\n",
		functionConfigPath, prjCfg.Name, fnCfg.UI.SlotsPerGroup, len(prjCfg.Diagnostic.DIDs), len(prjCfg.TxMessages))
	return nil
}

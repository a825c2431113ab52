// Package commands implements the agingcore CLI, grounded on
// marmos91-dittofs's cobra command-package layout: one rootCmd with
// persistent flags, subcommands registered from init().
package commands

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	functionConfigPath string
	projectConfigPath  string
	verbose            bool
)

var rootCmd = &cobra.Command{
	Use:   "agingcore",
	Short: "Aging-room controller core: CAN-FD realtime subsystem driver",
	Long: `agingcore drives the realtime subsystem of an industrial aging-room
controller: the CAN-FD bus manager, the receive dispatcher, the slot-status
classifier, the periodic scheduler, and the multi-slot UDS/ISO-TP
diagnostic engine, wired together per group by the Group Controller.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&functionConfigPath, "function-config", "", "path to the function-config document")
	rootCmd.PersistentFlags().StringVar(&projectConfigPath, "project-config", "", "path to the project-config document")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

func setLogLevel(levelName string) {
	if verbose {
		log.SetLevel(log.DebugLevel)
		return
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

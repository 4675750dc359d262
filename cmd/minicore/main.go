// Command minicore writes a Mach-O core file for a running process,
// given its pid, without requiring the target to crash or stop first.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/appsworld/minicore/internal/corelog"
)

var (
	pid        int
	outputPath string
)

func main() {
	root := &cobra.Command{
		Use:   "minicore",
		Short: "Write a Mach-O core dump for a running Darwin process",
		RunE:  run,
	}
	root.Flags().IntVarP(&pid, "pid", "p", 0, "target process id")
	root.Flags().StringVarP(&outputPath, "output", "o", "core", "output core file path")
	_ = root.MarkFlagRequired("pid")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	corelog.Infof("attaching to pid %d", pid)
	task, err := taskForPID(pid)
	if err != nil {
		return err
	}
	if err := writeCoreForPID(task, outputPath); err != nil {
		return err
	}
	corelog.Infof("wrote core to %s", outputPath)
	return nil
}

package cmd

import (
	"io"
	"log"
	"time"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/airlifthq/airlift/usecase/integrate"
)

// RunMain is wrapped by NewRunCommand and only exported for testing purposes.
var RunMain *integrate.RunMain

// NewRunCommand returns a new cobra command wrapping RunMain.
func NewRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	RunMain = integrate.NewRunMain()
	runCommand := &cobra.Command{
		Use:   "run",
		Short: "run - execute one integration definition and exit",
		Long: `Loads the metadata catalog and an integration definition, runs
every flight in it once, and exits. No scheduler state is kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			if err := RunMain.Run(); err != nil {
				return err
			}
			log.Println("Done: ", time.Since(start))
			return nil
		},
	}
	flags := runCommand.Flags()
	if err := commandeer.Flags(flags, RunMain); err != nil {
		panic(err)
	}
	return runCommand
}

func init() {
	subcommandFns["run"] = NewRunCommand
}

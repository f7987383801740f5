package cmd

import (
	"io"

	"github.com/jaffee/commandeer"
	"github.com/spf13/cobra"

	"github.com/airlifthq/airlift/usecase/integrate"
)

// ServeMain is wrapped by NewServeCommand and only exported for testing
// purposes.
var ServeMain *integrate.ServeMain

// NewServeCommand returns a new cobra command wrapping ServeMain.
func NewServeCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	ServeMain = integrate.NewServeMain()
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "serve - run the durable integration job service",
		Long: `Opens the job store, recovers interrupted jobs, and dispatches
queued integrations until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ServeMain.Run()
		},
	}
	flags := serveCommand.Flags()
	if err := commandeer.Flags(flags, ServeMain); err != nil {
		panic(err)
	}
	return serveCommand
}

func init() {
	subcommandFns["serve"] = NewServeCommand
}

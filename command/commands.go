package command

import (
	"os"

	"github.com/hashicorp/cli"

	"github.com/modelgate/modelgate/command/agent"
	"github.com/modelgate/modelgate/version"
)

// Commands returns the mapping of CLI commands. The meta parameter
// lets you set meta options for all commands.
func Commands(metaPtr *Meta) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}

	meta := *metaPtr
	if meta.Ui == nil {
		meta.Ui = &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		}
	}

	return map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &agent.Command{
				Version:    version.GetVersion(),
				Ui:         meta.Ui,
				ShutdownCh: make(chan struct{}),
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				Meta:    meta,
				Version: version.GetVersion(),
			}, nil
		},
	}
}

package command

import (
	"flag"

	"github.com/hashicorp/cli"
)

// Meta contains the meta-options and functionality that every command
// inherits.
type Meta struct {
	Ui cli.Ui
}

// FlagSet returns a FlagSet with the common flags that every command
// implements.
func (m *Meta) FlagSet(n string) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)
	f.SetOutput(&uiErrorWriter{ui: m.Ui})
	return f
}

// uiErrorWriter lets a flag set print its errors through the CLI's
// error stream.
type uiErrorWriter struct {
	ui cli.Ui
}

func (w *uiErrorWriter) Write(p []byte) (int, error) {
	w.ui.Error(string(p))
	return len(p), nil
}

package main

import (
	"flag"
	"fmt"

	"github.com/GoCodeAlone/gustoflow/plugin"
	plugingusto "github.com/GoCodeAlone/gustoflow/plugins/gusto"
	"github.com/GoCodeAlone/gustoflow/schema"
)

func runSchema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: gustoctl schema [type]\n\nPrint the schema of one type, or of every type.\n")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := schema.NewModuleSchemaRegistry()
	if err := plugin.NewPluginLoader(reg).LoadPlugin(plugingusto.New()); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return printJSON(reg.All())
	}
	s := reg.Get(fs.Arg(0))
	if s == nil {
		return fmt.Errorf("unknown type %q (known: %v)", fs.Arg(0), reg.Types())
	}
	return printJSON(s)
}

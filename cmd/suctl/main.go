package main

import (
    "log"

    "github.com/spf13/cobra"

    sucli "github.com/amirimatin/go-su/pkg/cli"
)

func main() {
    if err := newRoot().Execute(); err != nil {
        log.Fatal(err)
    }
}

func newRoot() *cobra.Command {
    root := &cobra.Command{
        Use:           "suctl",
        Short:         "scheduler unit client CLI",
        SilenceUsage:  true,
        SilenceErrors: true,
    }
    // Attach all su commands from pkg/cli for reuse in services
    sucli.AddAll(root)
    return root
}

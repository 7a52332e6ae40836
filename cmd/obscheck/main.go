package main

import (
	"fmt"
	"os"

	"github.com/owlby/owlby-backend/internal/tools/obscheck"
)

func main() {
	if err := obscheck.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/owlby/owlby-backend/internal/tools/authcheck"
)

func main() {
	if err := authcheck.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

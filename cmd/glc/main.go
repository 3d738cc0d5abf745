package main

import (
	"fmt"
	"io"
	"os"

	"github.com/BadgerOps/glc/internal/failure"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// reportError prints err with what it left behind and returns the exit code.
func reportError(w io.Writer, err error) int {
	kind := failure.KindOf(err)
	fmt.Fprintln(w, errorStyle.Render("Error: ")+err.Error())
	if kind != failure.KindUnknown {
		fmt.Fprintln(w, mutedStyle.Render("  "+failure.Remediation(kind)))
	}
	return failure.ExitCode(kind)
}

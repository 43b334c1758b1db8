package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
)

var (
	// globals used to patch over calls to os.Exit() during test

	logFatalln = log.Fatalln
	logFatalf  = log.Fatalf
	osExit     = os.Exit

	// out receives the output of commands
	out io.Writer = os.Stdout

	// infoLogger wraps informative messages to os.Stderr without cluttering the output of commands
	infoLogger = log.New(os.Stderr, "", 0)
)

func wrapFatalln(msg string, err error) {
	if err == nil {
		logFatalln(msg)
	} else {
		logFatalf("%v", fmt.Errorf(msg+": %w", err))
	}
}

func logStdOut(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(out, format, args...)
}

package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches to one subcommand per façade operation, mirroring
// cmd/mcplexer/main.go's flag-free os.Args switch. Exit codes: 0 ok, 1
// expected failure, 2 usage error.
func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: brokerd <serve|login|callback|status|refresh|logout|export> [args...]")
		return 2
	}

	subcmd, rest := args[0], args[1:]
	var err error
	switch subcmd {
	case "serve":
		err = cmdServe(rest)
	case "login":
		err = cmdLogin(rest)
	case "callback":
		err = cmdCallback(rest)
	case "status":
		err = cmdStatus(rest)
	case "refresh":
		err = cmdRefresh(rest)
	case "logout":
		err = cmdLogout(rest)
	case "export":
		err = cmdExport(rest)
	default:
		fmt.Fprintf(os.Stderr, "brokerd: unknown command %q\nusage: brokerd <serve|login|callback|status|refresh|logout|export> [args...]\n", subcmd)
		return 2
	}

	if err == nil {
		return 0
	}
	if ue, ok := err.(*usageError); ok {
		fmt.Fprintln(os.Stderr, ue.msg)
		return 2
	}
	fmt.Fprintf(os.Stderr, "brokerd: %v\n", err)
	return 1
}

// usageError signals a bad invocation rather than an operational failure,
// mapped to exit code 2 instead of 1.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

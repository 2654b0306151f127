// Command loadtest drives a running gateway and bot with simulated users.
//
//	loadtest saturate [options]  open N idle connections and hold them
//	loadtest chat [options]      register pairs, exchange messages, end
//
// The gateway limits connections per address; raise RuleConnect or run
// from several hosts for large runs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "saturate":
		err = runSaturate(os.Args[2:])
	case "chat":
		err = runChat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  saturate    open N idle connections and hold them")
	fmt.Println("  chat        register pairs of users, exchange messages and end the chats")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}

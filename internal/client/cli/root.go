package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Chat(ctx context.Context) error
	Usage(ctx context.Context) error
	Whoami(ctx context.Context) error
	ResetQuota(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop for the portal CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Commands:
//
//	Guest:
//	  - help            — show available commands
//	  - register        — create an account
//	  - login           — authenticate
//	  - chat            — send a message (guest daily quota applies)
//	  - usage           — show quota consumption
//	  - whoami          — show the current identity
//	  - exit | quit     — leave the program
//
//	Logged in additionally:
//	  - logout          — log out and clear stored credentials
//	  - resetquota      — clear the local quota counters
//
// Any errors returned by command handlers are ignored here; handlers print
// their own messages. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("dalsi %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: chat, usage, whoami, resetquota, logout, exit")
			} else {
				printlnFn("Available commands: chat, usage, whoami, register, login, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			_ = a.Login(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "chat", "c":
			_ = a.Chat(ctx)

		case "usage":
			_ = a.Usage(ctx)

		case "whoami":
			_ = a.Whoami(ctx)

		case "resetquota":
			_ = a.ResetQuota(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}

func (a *App) getStatus() string {
	s := ""
	if user := a.session.CurrentUser(); user != nil {
		s = user.Email + " "
	}
	if a.Mode != "" {
		s = s + string(a.Mode)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root prints the banner, surfaces any startup session message, and runs
// the REPL over stdin.
func (a *App) Root(ctx context.Context) {
	fmt.Println("Dalsi portal CLI (type 'help' for commands)")

	if msg := a.session.Err(); msg != "" {
		fmt.Println(msg)
	}
	if user := a.session.CurrentUser(); user != nil {
		fmt.Printf("Welcome back, %s.\n", user.Email)
	}

	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.getStatus, scanner)
}

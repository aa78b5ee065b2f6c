package cli

import (
	"context"
	"errors"
	"io"
	"strings"
)

// execIface is the command surface the REPL dispatches to. App satisfies it;
// tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	isAdmin() bool
	status() string
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Forgot(ctx context.Context) error
	Recover(ctx context.Context) error
	TwoFactor(ctx context.Context, arg string) error
	AdminUsers(ctx context.Context) error
	AdminDelete(ctx context.Context) error
	Logout(ctx context.Context) error
}

// lineReader is the part of the prompter the REPL reads commands through.
type lineReader interface {
	Ask(ctx context.Context, label string) (string, error)
	Info(msg string)
}

// runREPL reads commands and dispatches them to a until the user types
// "exit", input ends or ctx is cancelled.
//
//	Logged out:
//	  help, register, login, forgot, recover, exit
//
//	Logged in:
//	  help, 2fa [on|off], logout, exit
//	  admin users, admin delete   (admins only)
//
// Command handlers report their own errors to the user. The loop only stops
// on errors that mean the input is gone.
func runREPL(ctx context.Context, a execIface, in lineReader) {
	for {
		line, err := in.Ask(ctx, a.status())
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := strings.ToLower(parts[0]), parts[1:]

		switch cmd {
		case "help", "?":
			in.Info(helpText(a))

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "forgot":
			err = a.Forgot(ctx)

		case "recover":
			err = a.Recover(ctx)

		case "2fa":
			err = a.TwoFactor(ctx, firstArg(args))

		case "admin":
			switch firstArg(args) {
			case "users":
				err = a.AdminUsers(ctx)
			case "delete":
				err = a.AdminDelete(ctx)
			default:
				in.Info("Usage: admin users | admin delete")
			}

		case "logout":
			err = a.Logout(ctx)

		case "exit", "quit":
			in.Info("Bye!")
			return

		default:
			in.Info("Unknown command: " + cmd + ". Type 'help' for commands.")
		}

		if inputClosed(err) {
			return
		}
	}
}

func helpText(a execIface) string {
	switch {
	case a.isAdmin():
		return "Commands: 2fa [on|off], admin users, admin delete, logout, exit"
	case a.isLoggedIn():
		return "Commands: 2fa [on|off], logout, exit"
	default:
		return "Commands: register, login, forgot, recover, exit"
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToLower(args[0])
}

func inputClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

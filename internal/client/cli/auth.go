package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/neodalsi/dalsi/internal/common"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for email, password, and display name, and creates an
// account. The password byte slice is wiped before returning.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	name, err := getSimpleText(a.reader, "Enter display name", os.Stdout)
	if err != nil {
		return err
	}

	user, err := a.session.Register(ctx, email, string(password), name)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			fmt.Println("Registration rejected. Check the email address and try again.")
			return nil
		}
		fmt.Println("Registration failed:", err)
		return err
	}

	fmt.Printf("Welcome, %s! You are on the %s plan.\n", user.Name, user.Tier)
	return nil
}

// Login prompts for credentials and authenticates. Invalid credentials and
// an unreachable server are reported as messages, not errors: the REPL
// stays up either way.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", os.Stdout)
	if err != nil {
		return err
	}

	password, err := getPassword(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	user, err := a.session.Login(ctx, email, string(password))
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidCredentials):
			fmt.Println("Invalid email or password.")
		case errors.Is(err, common.ErrUnavailable):
			fmt.Println("Server unavailable. Try again later.")
			a.setMode(ModeOffline)
		default:
			fmt.Println("Login failed:", err)
		}
		return nil
	}

	fmt.Printf("Logged in as %s (%s plan).\n", user.Email, user.Tier)
	return nil
}

// Logout tears down the session and clears the stored credentials.
func (a *App) Logout(ctx context.Context) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

// Whoami prints the current identity and session state.
func (a *App) Whoami(ctx context.Context) error {
	if user := a.session.CurrentUser(); user != nil {
		fmt.Printf("%s (%s plan)\n", user.Email, user.Tier)
		return nil
	}
	fmt.Println("Browsing as a guest.")
	if msg := a.session.Err(); msg != "" {
		fmt.Println(msg)
	}
	return nil
}

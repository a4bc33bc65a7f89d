package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/neodalsi/dalsi/internal/common"
)

// Chat reads one message from the user and sends it through the session:
// quota check first, then the generation call, then recording. A quota
// denial is printed as a prompt, never silently dropped.
func (a *App) Chat(ctx context.Context) error {
	message, err := getSimpleText(a.reader, "Your message", os.Stdout)
	if err != nil {
		return err
	}
	if message == "" {
		return nil
	}

	resp, check, err := a.session.SendMessage(ctx, message, "chat", true)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrSessionExpired):
			fmt.Println("Your session has expired. Please log in again.")
		case errors.Is(err, common.ErrRateLimited):
			// The server enforced its own limit; surface it, never retry.
			fmt.Println("The server is rate-limiting requests. Try again in a bit.")
		case errors.Is(err, common.ErrUnavailable):
			fmt.Println("Server unavailable. Try again later.")
			a.setMode(ModeOffline)
		default:
			fmt.Println("Request failed:", err)
		}
		return nil
	}

	if check != nil && !check.Allowed {
		fmt.Println(check.Message)
		return nil
	}

	fmt.Println()
	fmt.Println(resp.Response)
	if len(resp.Sources) > 0 {
		fmt.Println("Sources:", strings.Join(resp.Sources, ", "))
	}
	fmt.Println()
	return nil
}

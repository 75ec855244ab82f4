// Command stepup is an interactive login client for the step-up auth
// service. It drives a full attempt from the terminal: credentials, method
// choice when more than one factor is enabled, and code entry.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/meridianhq/stepup/internal/stepup/app"
	"github.com/meridianhq/stepup/internal/stepup/domain"
	"github.com/meridianhq/stepup/internal/stepup/flow"
)

func main() {
	_ = godotenv.Load()

	application, err := app.New(app.LoadConfig(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stepup: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), application, bufio.NewReader(os.Stdin)); err != nil {
		fmt.Fprintf(os.Stderr, "stepup: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, application *app.App, in *bufio.Reader) error {
	username, err := prompt(in, "username: ")
	if err != nil {
		return err
	}
	password, err := prompt(in, "password: ")
	if err != nil {
		return err
	}

	attempt, err := application.Orchestrator.StartLogin(ctx, username, password)
	if err != nil {
		return describeLoginErr(err)
	}

	if !attempt.Completed() {
		if err := verify(ctx, attempt, in); err != nil {
			return err
		}
	}

	session := attempt.Session()
	if err := application.SessionConfirmed(session.AccessToken); err != nil {
		return err
	}

	fmt.Printf("signed in as %s (methods: %s), session valid until %s\n",
		session.Subject,
		strings.Join(session.AMR, ","),
		session.ExpiresAt.Format("15:04:05"),
	)
	return nil
}

// verify walks one second-factor verification to completion or gives up.
func verify(ctx context.Context, attempt *flow.Attempt, in *bufio.Reader) error {
	if err := attempt.Resolve(ctx); err != nil {
		return err
	}

	if attempt.State() == flow.StateChoicePresented {
		method, err := chooseMethod(in, attempt.Methods())
		if err != nil {
			return err
		}
		if err := attempt.Choose(method); err != nil {
			return err
		}
	}

	for {
		var input string
		if attempt.ChosenMethod() == domain.MethodPasskey {
			fmt.Println("touch your security key or approve the passkey prompt...")
		} else {
			code, err := prompt(in, "verification code: ")
			if err != nil {
				return err
			}
			input = code
		}

		result, err := attempt.Submit(ctx, input)
		switch {
		case errors.Is(err, flow.ErrMalformedCode):
			fmt.Println("codes are exactly 6 digits, try again")
			continue
		case errors.Is(err, flow.ErrRateLimited):
			return fmt.Errorf("too many attempts, wait before trying again")
		case err != nil:
			return err
		}

		switch result.Outcome {
		case domain.OutcomeSuccess:
			return nil
		case domain.OutcomeInvalidCode:
			fmt.Println("code incorrect, try again")
		case domain.OutcomeExpired:
			return fmt.Errorf("the sign-in window expired, start over")
		case domain.OutcomeCancelled:
			return fmt.Errorf("verification cancelled")
		case domain.OutcomeNetworkError:
			fmt.Println("network trouble, try again")
		}
	}
}

func chooseMethod(in *bufio.Reader, methods []domain.FactorMethod) (domain.FactorMethod, error) {
	fmt.Println("verify with:")
	for i, m := range methods {
		fmt.Printf("  %d) %s\n", i+1, m)
	}

	answer, err := prompt(in, "> ")
	if err != nil {
		return "", err
	}
	for i, m := range methods {
		if answer == fmt.Sprintf("%d", i+1) || answer == string(m) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown choice %q", answer)
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func describeLoginErr(err error) error {
	switch {
	case errors.Is(err, flow.ErrInvalidCredential):
		return fmt.Errorf("invalid username or password")
	case errors.Is(err, flow.ErrNetworkFailure):
		return fmt.Errorf("could not reach the auth service")
	default:
		return err
	}
}

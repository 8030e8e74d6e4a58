package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"github.com/gulfclinic/clinicadmin/internal/cli/client"
)

// Prompter asks the user for missing input
type Prompter interface {
	Email(defaultValue string) (string, error)
	Password() (string, error)
	Status(current client.AppointmentStatus) (client.AppointmentStatus, error)
}

var promptValidate = validator.New()

// terminalPrompter prompts on the controlling terminal
type terminalPrompter struct{}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (terminalPrompter) Email(defaultValue string) (string, error) {
	if !isInteractive() {
		return "", errors.New("email is required (use --email flag or CLINIC_EMAIL env var)")
	}

	prompt := promptui.Prompt{
		Label:   "Email",
		Default: defaultValue,
		Validate: func(input string) error {
			if err := promptValidate.Var(input, "required,email"); err != nil {
				return errors.New("enter a valid email address")
			}
			return nil
		},
	}
	email, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("email prompt cancelled: %w", err)
	}
	return email, nil
}

func (terminalPrompter) Password() (string, error) {
	if !isInteractive() {
		return "", errors.New("password is required in non-interactive mode (use --password flag or CLINIC_PASSWORD env var)")
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func (terminalPrompter) Status(current client.AppointmentStatus) (client.AppointmentStatus, error) {
	if !isInteractive() {
		return "", errors.New("status is required in non-interactive mode (NEW, CONTACTED or CLOSED)")
	}

	cursor := 0
	for i, s := range client.AppointmentStatuses {
		if s == current {
			cursor = i
		}
	}

	prompt := promptui.Select{
		Label:     "New status",
		Items:     client.AppointmentStatuses,
		CursorPos: cursor,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("status selection cancelled: %w", err)
	}
	return client.AppointmentStatuses[idx], nil
}

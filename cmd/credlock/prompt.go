package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// promptCredentials asks for an access key pair. On a terminal it shows a
// masked form; otherwise it reads two lines from in.
func promptCredentials(in *os.File) (accessKeyID, secretAccessKey string, err error) {
	if term.IsTerminal(int(in.Fd())) {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("🔑 Enter your access_key_id").
					EchoMode(huh.EchoModePassword).
					Validate(required("access_key_id")).
					Value(&accessKeyID),
				huh.NewInput().
					Title("🔑 Enter your secret_access_key").
					EchoMode(huh.EchoModePassword).
					Validate(required("secret_access_key")).
					Value(&secretAccessKey),
			),
		).WithOutput(os.Stderr)
		if err := form.Run(); err != nil {
			return "", "", fmt.Errorf("reading credentials: %w", err)
		}
		return strings.TrimSpace(accessKeyID), strings.TrimSpace(secretAccessKey), nil
	}

	return readCredentialLines(bufio.NewScanner(in))
}

func readCredentialLines(sc *bufio.Scanner) (accessKeyID, secretAccessKey string, err error) {
	var values [2]string
	for i, name := range []string{"access_key_id", "secret_access_key"} {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", "", fmt.Errorf("reading stdin: %w", err)
			}
			return "", "", fmt.Errorf("reading stdin: missing %s", name)
		}
		values[i] = strings.TrimSpace(sc.Text())
		if err := required(name)(values[i]); err != nil {
			return "", "", err
		}
	}
	return values[0], values[1], nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(name + " must not be empty")
		}
		return nil
	}
}

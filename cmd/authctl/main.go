// Command authctl administers the identity store: it creates users and
// produces password hashes with the service's hashing scheme.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"go-auth-service/internal/app"
	"go-auth-service/internal/config"
	"go-auth-service/internal/logger"
	"go-auth-service/internal/model"
	"go-auth-service/internal/security"
)

const usage = `usage: authctl <command> [flags]

commands:
  create-user    create an identity in the configured store
  hash-password  print the stored form of a password
`

func main() {
	slog.SetDefault(logger.New(os.Stderr, "pretty", "warn"))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "create-user":
		err = createUser(os.Args[2:])
	case "hash-password":
		err = hashPassword(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(1)
	}
}

func createUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	username := fs.String("username", "", "login name (required)")
	email := fs.String("email", "", "email address (required)")
	firstName := fs.String("first-name", "", "given name")
	lastName := fs.String("last-name", "", "family name")
	phone := fs.String("phone", "", "phone number")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	password, err := readPassword(os.Stdin, os.Stderr, true)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := app.NewAuthService(cfg, store)
	if err != nil {
		return err
	}

	user, err := svc.Register(ctx, model.RegisterRequest{
		Username:  *username,
		Email:     *email,
		Password:  password,
		FirstName: *firstName,
		LastName:  *lastName,
		PhoneNum:  *phone,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "created user %d (%s)\n", user.ID, user.Username)
	return nil
}

func hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	cost := fs.Int("cost", config.HashCostFromEnv(), "bcrypt cost (defaults to HASH_COST)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hasher, err := security.NewHasher(*cost, security.DefaultTokenBytes)
	if err != nil {
		return err
	}

	password, err := readPassword(os.Stdin, os.Stderr, false)
	if err != nil {
		return err
	}

	hash, err := hasher.HashPassword(password)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, hash)
	return nil
}

// readPassword prompts without echo when stdin is a terminal and otherwise
// reads a single line, so passwords can be piped in.
func readPassword(in *os.File, prompt io.Writer, confirm bool) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return "", errors.New("password is empty")
		}
		return password, nil
	}

	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(first) == 0 {
		return "", errors.New("password is empty")
	}

	if confirm {
		fmt.Fprint(prompt, "Confirm password: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
	}

	return string(first), nil
}

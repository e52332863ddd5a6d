package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/eiannone/keyboard"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/chmdznr/template-file-migrator/internal/config"
	"github.com/chmdznr/template-file-migrator/internal/salesforce"
)

// org names one side of a migration for flags and prompts.
type org string

const (
	source org = "source"
	target org = "target"
)

func (o org) flag(name string) string { return string(o) + "-" + name }

func (o org) env(name string) []string {
	return []string{fmt.Sprintf("TMIG_%s_%s", upper(string(o)), upper(name))}
}

func upper(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
}

func orgFlags(o org) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    o.flag("username"),
			Usage:   fmt.Sprintf("Username in the %s org", o),
			EnvVars: o.env("username"),
		},
		&cli.StringFlag{
			Name:    o.flag("password"),
			Usage:   fmt.Sprintf("Password in the %s org (prompted for when empty)", o),
			EnvVars: o.env("password"),
		},
		&cli.StringFlag{
			Name:    o.flag("token"),
			Usage:   fmt.Sprintf("Security token of the %s user", o),
			EnvVars: o.env("security-token"),
		},
		&cli.StringFlag{
			Name:    o.flag("domain"),
			Usage:   fmt.Sprintf("Login domain of the %s org: login or test", o),
			EnvVars: o.env("domain"),
		},
	}
}

func (o org) apply(c *cli.Context, creds *salesforce.Credentials) {
	if c.IsSet(o.flag("username")) {
		creds.Username = c.String(o.flag("username"))
	}
	if c.IsSet(o.flag("password")) {
		creds.Password = c.String(o.flag("password"))
	}
	if c.IsSet(o.flag("token")) {
		creds.SecurityToken = c.String(o.flag("token"))
	}
	if c.IsSet(o.flag("domain")) {
		creds.Domain = salesforce.Domain(c.String(o.flag("domain")))
	}
}

// loadConfig reads the config file and lays the command's flags over it.
// The file is optional unless --config was given explicitly.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"), !c.IsSet("config"))
	if err != nil {
		return nil, err
	}

	source.apply(c, &cfg.Source)
	target.apply(c, &cfg.Target)

	if c.IsSet("workers") {
		cfg.FetchWorkers = c.Int("workers")
	}
	if c.IsSet("archive-dir") {
		cfg.Archive.Dir = c.String("archive-dir")
	}
	if c.IsSet("ledger") {
		cfg.Ledger = c.String("ledger")
	}

	if err := cfg.ValidateStatic(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptPassword asks for a missing password without echo.
func promptPassword(o org, creds *salesforce.Credentials) error {
	if creds.Password != "" || creds.Username == "" || !stdinIsTerminal() {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Password for %s (%s org): ", creds.Username, o)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read password: %v", err)
	}
	creds.Password = string(password)
	return nil
}

var errNotConfirmed = errors.New("aborted")

// confirm waits for a single y/n key press.
func confirm(prompt string) error {
	if !stdinIsTerminal() {
		return errors.New("no terminal to confirm on; pass --yes to run unattended")
	}

	fmt.Printf("%s [y/N] ", prompt)
	char, key, err := keyboard.GetSingleKey()
	if err != nil {
		return fmt.Errorf("failed to read key: %v", err)
	}
	if key == keyboard.KeyCtrlC || (char != 'y' && char != 'Y') {
		fmt.Println("n")
		return errNotConfirmed
	}
	fmt.Println("y")
	return nil
}

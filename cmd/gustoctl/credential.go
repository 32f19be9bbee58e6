package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/GoCodeAlone/gustoflow/module"
	"github.com/google/uuid"
)

func runCompanies(args []string) error {
	fs := flag.NewFlagSet("companies", flag.ContinueOnError)
	ef := addEngineFlags(fs)
	credName := fs.String("credential", "", "Name of the gusto.credential module")
	asJSON := fs.Bool("json", false, "Print JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	engine, stop, err := ef.start(ctx)
	if err != nil {
		return err
	}
	defer stop()
	cred, err := credential(engine, *credName)
	if err != nil {
		return err
	}
	companies, err := module.GetCompanies(ctx, cred)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(companies)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tUUID")
	for _, c := range companies {
		fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Value)
	}
	return tw.Flush()
}

func runAuthURL(args []string) error {
	fs := flag.NewFlagSet("auth-url", flag.ContinueOnError)
	ef := addEngineFlags(fs)
	credName := fs.String("credential", "", "Name of the gusto.credential module")
	state := fs.String("state", "", "OAuth2 state value; random when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, err := ef.build(context.Background())
	if err != nil {
		return err
	}
	cred, err := credential(engine, *credName)
	if err != nil {
		return err
	}
	if *state == "" {
		*state = uuid.NewString()
	}
	fmt.Fprintln(stdout, cred.AuthCodeURL(*state))
	return nil
}

func runExchange(args []string) error {
	fs := flag.NewFlagSet("exchange", flag.ContinueOnError)
	ef := addEngineFlags(fs)
	credName := fs.String("credential", "", "Name of the gusto.credential module")
	code := fs.String("code", "", "Authorization code from the redirect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *code == "" {
		return fmt.Errorf("-code is required")
	}

	ctx := context.Background()
	engine, stop, err := ef.start(ctx)
	if err != nil {
		return err
	}
	defer stop()
	cred, err := credential(engine, *credName)
	if err != nil {
		return err
	}
	tok, err := cred.Exchange(ctx, *code)
	if err != nil {
		return err
	}
	// The token store keeps the token; print it for configs without one.
	return printJSON(map[string]any{
		"accessToken":  tok.AccessToken,
		"refreshToken": tok.RefreshToken,
		"tokenType":    tok.TokenType,
		"expiry":       tok.Expiry,
	})
}

func runTestCredential(args []string) error {
	fs := flag.NewFlagSet("test-credential", flag.ContinueOnError)
	ef := addEngineFlags(fs)
	credName := fs.String("credential", "", "Name of the gusto.credential module")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	engine, stop, err := ef.start(ctx)
	if err != nil {
		return err
	}
	defer stop()
	cred, err := credential(engine, *credName)
	if err != nil {
		return err
	}
	me, err := cred.Test(ctx)
	if err != nil {
		return fmt.Errorf("credential %q failed: %w", cred.Name(), err)
	}
	fmt.Fprintf(stdout, "credential %s is valid (%s, %s)\n", cred.Name(), cred.Environment(), cred.BaseURL())
	return printJSON(me)
}

package main

import (
	"context"
	"fmt"

	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/ledger"
)

func cmdProvider(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provider: subcommand required (register, activate, deactivate, unregister, rate, show, list, grants)")
	}
	sub, args := args[0], args[1:]
	fs := newFlags("provider " + sub)
	account := fs.String("account", "", "Account id")
	typ := fs.String("type", "", "Provider type: Master, AiService, FamilyMember or Research")
	key := fs.String("key", "", "Hex public key to register; defaults to the account's own key")
	record := fs.Uint64("record", 0, "Record id the rating refers to")
	target := fs.String("provider", "", "Provider account id to rate")
	score := fs.Uint("score", 0, "Score from 0 to 100")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch sub {
	case "show":
		p, ok, err := a.dir.Get(ctx, ledger.AccountID(*account))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("provider %s is not registered", *account)
		}
		return a.print(p)
	case "list":
		t, err := ledger.ParseProviderType(*typ)
		if err != nil {
			return err
		}
		profiles, err := a.dir.Browse(ctx, t)
		if err != nil {
			return err
		}
		return a.print(profiles)
	case "grants":
		ids, err := a.dir.Grants(ctx, ledger.AccountID(*account))
		if err != nil {
			return err
		}
		return a.print(ids)
	}

	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()

	var rcpt *ledger.Receipt
	switch sub {
	case "register":
		t, err := ledger.ParseProviderType(*typ)
		if err != nil {
			return err
		}
		var pub crypto.PublicKey
		if *key != "" {
			if pub, err = crypto.ParsePublicKeyHex(*key); err != nil {
				return err
			}
		}
		rcpt, err = a.dir.Register(ctx, s, t, pub)
		if err != nil {
			return err
		}
	case "activate", "deactivate":
		rcpt, err = a.dir.SetActive(ctx, s, sub == "activate")
	case "unregister":
		rcpt, err = a.dir.Unregister(ctx, s)
	case "rate":
		if *score > 255 {
			return fmt.Errorf("score %d out of range", *score)
		}
		rcpt, err = a.dir.Rate(ctx, s, ledger.RecordID(*record), ledger.AccountID(*target), uint8(*score))
	default:
		return fmt.Errorf("provider: unknown subcommand %q", sub)
	}
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

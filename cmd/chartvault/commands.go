package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kenneth/chart-vault/internal/access"
	"github.com/kenneth/chart-vault/internal/crypto"
	"github.com/kenneth/chart-vault/internal/ledger"
)

type command func(ctx context.Context, a *app, args []string) error

var commands map[string]command

func init() {
	commands = map[string]command{
		"keygen":     cmdKeygen,
		"publish":    cmdPublish,
		"pubkey":     cmdPubkey,
		"keydelete":  cmdKeyDelete,
		"create":     cmdCreate,
		"delete":     cmdDelete,
		"open":       cmdOpen,
		"info":       cmdInfo,
		"grants":     cmdGrants,
		"records":    cmdRecords,
		"grant":      cmdGrant,
		"revoke":     cmdRevoke,
		"revoke-all": cmdRevokeAll,
		"scope":      cmdScope,
		"privacy":    cmdPrivacy,
		"access":     cmdAccess,
		"provider":   cmdProvider,
	}
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func cmdKeygen(ctx context.Context, a *app, args []string) error {
	fs := newFlags("keygen")
	account := fs.String("account", "", "Account id")
	force := fs.Bool("force", false, "Replace an existing key; grants sealed to it become unrecoverable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return fmt.Errorf("-account is required")
	}

	exists, err := a.keys.HasStoredKey(ctx, *account)
	if err != nil {
		return err
	}
	if exists && !*force {
		return fmt.Errorf("account %s already has a stored key; pass -force to replace it", *account)
	}

	kp, err := a.keys.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer kp.Wipe()
	if err := a.keys.SavePrivateKey(ctx, *account, &kp.Private, passphrase()); err != nil {
		return err
	}
	return a.print(map[string]interface{}{
		"account":    *account,
		"public_key": kp.Public.String(),
		"protected":  len(passphrase()) > 0,
	})
}

func cmdPublish(ctx context.Context, a *app, args []string) error {
	fs := newFlags("publish")
	account := fs.String("account", "", "Account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()
	rcpt, err := s.PublishKey(ctx)
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

func cmdPubkey(ctx context.Context, a *app, args []string) error {
	fs := newFlags("pubkey")
	account := fs.String("account", "", "Account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pub, err := a.keys.LoadPublicKey(ctx, *account)
	if err != nil {
		return err
	}
	return a.print(map[string]string{"account": *account, "public_key": pub.String()})
}

func cmdKeyDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags("keydelete")
	account := fs.String("account", "", "Account id")
	confirm := fs.Bool("confirm", false, "Confirm the key is backed up; grants sealed to it become unrecoverable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *account == "" {
		return fmt.Errorf("-account is required")
	}
	if !*confirm {
		return fmt.Errorf("deleting the key of %s is irreversible; pass -confirm once it is backed up", *account)
	}
	if err := a.keys.DeletePrivateKey(ctx, *account); err != nil {
		return err
	}
	return a.print(map[string]string{"account": *account, "deleted": "true"})
}

func cmdCreate(ctx context.Context, a *app, args []string) error {
	fs := newFlags("create")
	account := fs.String("account", "", "Owner account id")
	file := fs.String("file", "", "Read the plaintext from this file (- for stdin)")
	data := fs.String("data", "", "Plaintext given inline")
	index := fs.String("index", "", "Public index as key=value pairs separated by commas")
	mode := fs.String("mode", "Authorized", "Privacy mode: Authorized, Private or Public")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pm, err := ledger.ParsePrivacyMode(*mode)
	if err != nil {
		return err
	}

	plaintext, err := readPlaintext(*file, *data)
	if err != nil {
		return err
	}
	idx, err := parseIndex(*index)
	if err != nil {
		return err
	}

	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()
	rcpt, err := s.CreateRecordWithMode(ctx, plaintext, idx, pm)
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlags("delete")
	account := fs.String("account", "", "Owner account id")
	record := fs.Uint64("record", 0, "Record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()
	rcpt, err := s.DeleteRecord(ctx, ledger.RecordID(*record))
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

func cmdOpen(ctx context.Context, a *app, args []string) error {
	fs := newFlags("open")
	account := fs.String("account", "", "Reader account id")
	record := fs.Uint64("record", 0, "Record id")
	out := fs.String("out", "", "Write the plaintext to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Open(ctx, ledger.RecordID(*record))
	if err != nil {
		return err
	}
	defer crypto.Zero(rec.Plaintext)
	if *out != "" {
		return os.WriteFile(*out, rec.Plaintext, 0o600)
	}
	_, err = a.stdout.Write(rec.Plaintext)
	return err
}

func cmdInfo(ctx context.Context, a *app, args []string) error {
	fs := newFlags("info")
	record := fs.Uint64("record", 0, "Record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	info, err := a.reg.RecordInfo(ctx, ledger.RecordID(*record))
	if err != nil {
		return err
	}
	return a.print(info)
}

func cmdGrants(ctx context.Context, a *app, args []string) error {
	fs := newFlags("grants")
	record := fs.Uint64("record", 0, "Record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	info, err := a.reg.GrantInfo(ctx, ledger.RecordID(*record))
	if err != nil {
		return err
	}
	return a.print(info)
}

func cmdRecords(ctx context.Context, a *app, args []string) error {
	fs := newFlags("records")
	account := fs.String("account", "", "Owner account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := a.reg.OwnerRecords(ctx, ledger.AccountID(*account))
	if err != nil {
		return err
	}
	return a.print(ids)
}

func cmdGrant(ctx context.Context, a *app, args []string) error {
	fs := newFlags("grant")
	account := fs.String("account", "", "Owner account id")
	record := fs.Uint64("record", 0, "Record id")
	to := fs.String("to", "", "Grantee account ids, comma separated")
	role := fs.String("role", "Family", "Grantee role: Master, Family or AiService")
	scope := fs.String("scope", "ReadOnly", "Scope: ReadOnly, CanComment or FullAccess")
	expiresIn := fs.Uint64("expires-in", 0, "Expire after this many blocks; 0 never expires")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := ledger.ParseRole(*role)
	if err != nil {
		return err
	}
	sc, err := ledger.ParseScope(*scope)
	if err != nil {
		return err
	}
	grantees := splitList(*to)
	if len(grantees) == 0 {
		return fmt.Errorf("-to is required")
	}

	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()

	specs := make([]access.GrantSpec, 0, len(grantees))
	for _, g := range grantees {
		specs = append(specs, access.GrantSpec{
			Grantee:   ledger.AccountID(g),
			Role:      r,
			Scope:     sc,
			ExpiresIn: ledger.Height(*expiresIn),
		})
	}
	results, err := s.GrantMany(ctx, ledger.RecordID(*record), specs)
	if err != nil {
		return err
	}

	type result struct {
		Grantee ledger.AccountID `json:"grantee"`
		Receipt *ledger.Receipt  `json:"receipt,omitempty"`
		Error   string           `json:"error,omitempty"`
	}
	out := make([]result, len(results))
	var failed error
	for i, res := range results {
		out[i] = result{Grantee: res.Grantee, Receipt: res.Receipt}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			failed = errors.Join(failed, res.Err)
		}
	}
	if err := a.print(out); err != nil {
		return err
	}
	return failed
}

func cmdRevoke(ctx context.Context, a *app, args []string) error {
	fs := newFlags("revoke")
	account := fs.String("account", "", "Owner account id")
	record := fs.Uint64("record", 0, "Record id")
	from := fs.String("from", "", "Grantee account id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()
	rcpt, err := s.Revoke(ctx, ledger.RecordID(*record), ledger.AccountID(*from))
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

func cmdRevokeAll(ctx context.Context, a *app, args []string) error {
	fs := newFlags("revoke-all")
	account := fs.String("account", "", "Owner account id")
	record := fs.Uint64("record", 0, "Record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()
	rcpt, err := s.RevokeAll(ctx, ledger.RecordID(*record))
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

func cmdScope(ctx context.Context, a *app, args []string) error {
	fs := newFlags("scope")
	account := fs.String("account", "", "Owner account id")
	record := fs.Uint64("record", 0, "Record id")
	grantee := fs.String("grantee", "", "Grantee account id")
	scope := fs.String("scope", "", "New scope: ReadOnly, CanComment or FullAccess")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sc, err := ledger.ParseScope(*scope)
	if err != nil {
		return err
	}
	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()
	rcpt, err := s.UpdateScope(ctx, ledger.RecordID(*record), ledger.AccountID(*grantee), sc)
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

func cmdPrivacy(ctx context.Context, a *app, args []string) error {
	fs := newFlags("privacy")
	account := fs.String("account", "", "Owner account id")
	record := fs.Uint64("record", 0, "Record id")
	mode := fs.String("mode", "", "New privacy mode: Authorized, Private or Public")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pm, err := ledger.ParsePrivacyMode(*mode)
	if err != nil {
		return err
	}
	s, err := a.session(ctx, *account)
	if err != nil {
		return err
	}
	defer s.Close()
	rcpt, err := s.SetPrivacyMode(ctx, ledger.RecordID(*record), pm)
	if err != nil {
		return err
	}
	return a.print(rcpt)
}

func cmdAccess(ctx context.Context, a *app, args []string) error {
	fs := newFlags("access")
	account := fs.String("account", "", "Account to check")
	record := fs.Uint64("record", 0, "Record id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ok, err := a.reg.HasAccess(ctx, ledger.RecordID(*record), ledger.AccountID(*account))
	if err != nil {
		return err
	}
	return a.print(map[string]interface{}{"record": *record, "account": *account, "access": ok})
}

func readPlaintext(file, data string) ([]byte, error) {
	switch {
	case file != "" && data != "":
		return nil, fmt.Errorf("use either -file or -data")
	case file == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	case data != "":
		return []byte(data), nil
	default:
		return nil, fmt.Errorf("one of -file or -data is required")
	}
}

// parseIndex parses "k=v,k2=v2" into a public index.
func parseIndex(s string) (ledger.PublicIndex, error) {
	idx := ledger.PublicIndex{}
	for _, pair := range splitList(s) {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid index entry %q, want key=value", pair)
		}
		idx[k] = strings.TrimSpace(v)
	}
	return idx, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

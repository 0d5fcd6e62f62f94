package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kenneth/chart-vault/internal/crypto"
)

// Client talks to a ledgerd node over HTTP. Transport failures are returned
// wrapped in ErrUnavailable; rejections are returned as *Error.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

var _ Ledger = (*Client)(nil)

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (found bool, err error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return true, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return true, nil
	}

	var eb ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil && eb.Error.Code != "" && resp.StatusCode < 500 {
		le := eb.Error
		return false, &le
	}
	return false, fmt.Errorf("%w: %s %s returned %s", ErrUnavailable, method, path, resp.Status)
}

func (c *Client) submit(ctx context.Context, op string, env *TxEnvelope) (*Receipt, error) {
	var r Receipt
	if _, err := c.do(ctx, http.MethodPost, "/v1/tx/"+op, env, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) RegisterEncryptionKey(ctx context.Context, tx Tx, pub crypto.PublicKey) (*Receipt, error) {
	return c.submit(ctx, OpRegisterEncryptionKey, &TxEnvelope{Tx: tx, PublicKey: &pub})
}

func (c *Client) CreateEncryptedRecord(ctx context.Context, tx Tx, req CreateRecordRequest) (*Receipt, error) {
	return c.submit(ctx, OpCreateEncryptedRecord, &TxEnvelope{Tx: tx, Record: &req})
}

func (c *Client) DeleteEncryptedRecord(ctx context.Context, tx Tx, id RecordID) (*Receipt, error) {
	return c.submit(ctx, OpDeleteEncryptedRecord, &TxEnvelope{Tx: tx, RecordID: id})
}

func (c *Client) GrantChartAccess(ctx context.Context, tx Tx, req GrantRequest) (*Receipt, error) {
	return c.submit(ctx, OpGrantChartAccess, &TxEnvelope{Tx: tx, Grant: &req})
}

func (c *Client) RevokeChartAccess(ctx context.Context, tx Tx, id RecordID, grantee AccountID) (*Receipt, error) {
	return c.submit(ctx, OpRevokeChartAccess, &TxEnvelope{Tx: tx, RecordID: id, Grantee: grantee})
}

func (c *Client) RevokeAllChartAccess(ctx context.Context, tx Tx, id RecordID) (*Receipt, error) {
	return c.submit(ctx, OpRevokeAllChartAccess, &TxEnvelope{Tx: tx, RecordID: id})
}

func (c *Client) UpdateChartAccessScope(ctx context.Context, tx Tx, id RecordID, grantee AccountID, scope Scope) (*Receipt, error) {
	return c.submit(ctx, OpUpdateChartAccessScope, &TxEnvelope{Tx: tx, RecordID: id, Grantee: grantee, Scope: &scope})
}

func (c *Client) ChangePrivacyMode(ctx context.Context, tx Tx, req PrivacyRequest) (*Receipt, error) {
	return c.submit(ctx, OpChangePrivacyMode, &TxEnvelope{Tx: tx, Privacy: &req})
}

func (c *Client) RegisterProvider(ctx context.Context, tx Tx, t ProviderType, pub crypto.PublicKey) (*Receipt, error) {
	return c.submit(ctx, OpRegisterProvider, &TxEnvelope{Tx: tx, ProviderType: &t, PublicKey: &pub})
}

func (c *Client) SetProviderActive(ctx context.Context, tx Tx, active bool) (*Receipt, error) {
	return c.submit(ctx, OpSetProviderActive, &TxEnvelope{Tx: tx, Active: &active})
}

func (c *Client) UnregisterProvider(ctx context.Context, tx Tx) (*Receipt, error) {
	return c.submit(ctx, OpUnregisterProvider, &TxEnvelope{Tx: tx})
}

func (c *Client) RateProvider(ctx context.Context, tx Tx, id RecordID, provider AccountID, score uint8) (*Receipt, error) {
	return c.submit(ctx, OpRateProvider, &TxEnvelope{Tx: tx, RecordID: id, Provider: provider, Score: score})
}

func (c *Client) Height(ctx context.Context) (Height, error) {
	var hb HeightBody
	_, err := c.do(ctx, http.MethodGet, "/v1/height", nil, &hb)
	return hb.Height, err
}

func (c *Client) GetUserEncryptionKey(ctx context.Context, account AccountID) (crypto.PublicKey, bool, error) {
	var kb KeyBody
	found, err := c.do(ctx, http.MethodGet, "/v1/keys/"+url.PathEscape(string(account)), nil, &kb)
	return kb.PublicKey, found, err
}

func recordPath(id RecordID) string {
	return "/v1/records/" + strconv.FormatUint(uint64(id), 10)
}

func (c *Client) GetEncryptedRecordInfo(ctx context.Context, id RecordID) (*RecordInfo, error) {
	var ri RecordInfo
	if _, err := c.do(ctx, http.MethodGet, recordPath(id), nil, &ri); err != nil {
		return nil, err
	}
	return &ri, nil
}

func (c *Client) GetGrantInfo(ctx context.Context, id RecordID) (*GrantInfo, error) {
	var gi GrantInfo
	if _, err := c.do(ctx, http.MethodGet, recordPath(id)+"/grants", nil, &gi); err != nil {
		return nil, err
	}
	return &gi, nil
}

func (c *Client) GetGrantEntry(ctx context.Context, id RecordID, grantee AccountID) (*Grant, bool, error) {
	var g Grant
	found, err := c.do(ctx, http.MethodGet, recordPath(id)+"/grants/"+url.PathEscape(string(grantee)), nil, &g)
	if err != nil || !found {
		return nil, false, err
	}
	return &g, true, nil
}

func (c *Client) GetOwnerRecords(ctx context.Context, owner AccountID) ([]RecordID, error) {
	var ids []RecordID
	_, err := c.do(ctx, http.MethodGet, "/v1/owners/"+url.PathEscape(string(owner))+"/records", nil, &ids)
	return ids, err
}

func (c *Client) GetProvidersByType(ctx context.Context, t ProviderType) ([]AccountID, error) {
	var out []AccountID
	_, err := c.do(ctx, http.MethodGet, "/v1/providers?type="+url.QueryEscape(t.String()), nil, &out)
	return out, err
}

func (c *Client) GetProvider(ctx context.Context, account AccountID) (*ProviderProfile, bool, error) {
	var p ProviderProfile
	found, err := c.do(ctx, http.MethodGet, "/v1/providers/"+url.PathEscape(string(account)), nil, &p)
	if err != nil || !found {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *Client) GetProviderGrants(ctx context.Context, account AccountID) ([]RecordID, error) {
	var ids []RecordID
	_, err := c.do(ctx, http.MethodGet, "/v1/providers/"+url.PathEscape(string(account))+"/grants", nil, &ids)
	return ids, err
}

package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/shopconnect/shopconnect/pkg/lnaddress"
)

// AddressResolver turns a lightning address plus an amount into a payable
// invoice string.
type AddressResolver interface {
	FetchInvoice(ctx context.Context, address string, amountSats int64, memo string) (string, error)
}

// LNURLResolver resolves lightning addresses through the LNURL-pay well-known
// flow: fetch the domain's payment descriptor, then request an invoice from
// its callback.
type LNURLResolver struct {
	http *http.Client
}

// NewLNURLResolver creates a resolver with the given per-request timeout
func NewLNURLResolver(timeout time.Duration) *LNURLResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LNURLResolver{http: &http.Client{Timeout: timeout}}
}

// payDescriptor is the LNURL-pay metadata served at the well-known endpoint
type payDescriptor struct {
	Callback       string `json:"callback"`
	MinSendable    int64  `json:"minSendable"`
	MaxSendable    int64  `json:"maxSendable"`
	CommentAllowed int    `json:"commentAllowed"`
	Tag            string `json:"tag"`
}

// invoiceResponse is the callback's answer
type invoiceResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// FetchInvoice resolves an invoice for amountSats at the given address. The
// LNURL amount parameter is denominated in millisats.
func (r *LNURLResolver) FetchInvoice(ctx context.Context, address string, amountSats int64, memo string) (string, error) {
	addr, err := lnaddress.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvoiceRequest, err)
	}

	var descriptor payDescriptor
	if err := r.getJSON(ctx, addr.WellKnownURL(), &descriptor); err != nil {
		return "", fmt.Errorf("%w: fetch payment descriptor: %w", ErrInvoiceRequest, err)
	}
	if descriptor.Callback == "" {
		return "", fmt.Errorf("%w: descriptor for %s has no callback", ErrInvoiceRequest, addr)
	}

	millisats := amountSats * 1000
	if descriptor.MinSendable > 0 && millisats < descriptor.MinSendable {
		return "", fmt.Errorf("%w: %d msat below recipient minimum %d", ErrInvoiceRequest, millisats, descriptor.MinSendable)
	}
	if descriptor.MaxSendable > 0 && millisats > descriptor.MaxSendable {
		return "", fmt.Errorf("%w: %d msat above recipient maximum %d", ErrInvoiceRequest, millisats, descriptor.MaxSendable)
	}

	callback, err := url.Parse(descriptor.Callback)
	if err != nil {
		return "", fmt.Errorf("%w: bad callback URL: %w", ErrInvoiceRequest, err)
	}
	query := callback.Query()
	query.Set("amount", fmt.Sprintf("%d", millisats))
	if memo != "" && descriptor.CommentAllowed > 0 {
		if len(memo) > descriptor.CommentAllowed {
			// Back off to a rune boundary; shop names are user-supplied and
			// a cut mid-rune would send invalid UTF-8 to the callback.
			cut := descriptor.CommentAllowed
			for cut > 0 && !utf8.RuneStart(memo[cut]) {
				cut--
			}
			memo = memo[:cut]
		}
		query.Set("comment", memo)
	}
	callback.RawQuery = query.Encode()

	var invoice invoiceResponse
	if err := r.getJSON(ctx, callback.String(), &invoice); err != nil {
		return "", fmt.Errorf("%w: fetch invoice: %w", ErrInvoiceRequest, err)
	}
	if invoice.Status == "ERROR" {
		return "", fmt.Errorf("%w: recipient refused: %s", ErrInvoiceRequest, invoice.Reason)
	}
	if invoice.PR == "" {
		return "", fmt.Errorf("%w: response carries no invoice", ErrInvoiceRequest)
	}

	return invoice.PR, nil
}

func (r *LNURLResolver) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// NIP-47 wallet-connect event kinds
const (
	kindWalletRequest  = 23194
	kindWalletResponse = 23195
)

// WalletConnection is a parsed nostr+walletconnect:// URI: the wallet
// service's pubkey, the relay both sides meet on, and the client secret that
// keys the conversation.
type WalletConnection struct {
	WalletPubKey string
	RelayURL     string
	Secret       string
}

// ParseConnectionString parses a wallet-connect URI. The plaintext secret is
// only ever held in memory; callers persist the sealed form.
func ParseConnectionString(raw string) (*WalletConnection, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "nostr+walletconnect://") && !strings.HasPrefix(raw, "nostrwalletconnect://") {
		return nil, fmt.Errorf("%w: missing nostr+walletconnect scheme", ErrWalletURIMalformed)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWalletURIMalformed, err)
	}

	pubkey := u.Host
	if !isHex64(pubkey) {
		return nil, fmt.Errorf("%w: wallet pubkey must be 64 hex chars", ErrWalletURIMalformed)
	}

	relayURL := u.Query().Get("relay")
	if relayURL == "" {
		return nil, fmt.Errorf("%w: missing relay parameter", ErrWalletURIMalformed)
	}

	secret := u.Query().Get("secret")
	if !isHex64(secret) {
		return nil, fmt.Errorf("%w: secret must be 64 hex chars", ErrWalletURIMalformed)
	}

	return &WalletConnection{
		WalletPubKey: pubkey,
		RelayURL:     relayURL,
		Secret:       secret,
	}, nil
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// PaymentProof is the settlement confirmation for one paid invoice
type PaymentProof struct {
	Preimage  string
	PaymentID string
}

// Wallet pays invoices on behalf of a connection's wallet service
type Wallet interface {
	PayInvoice(ctx context.Context, conn *WalletConnection, invoice string) (*PaymentProof, error)
}

// NostrWallet implements Wallet over NIP-47: an encrypted pay_invoice request
// event published to the connection's relay, answered by a response event
// addressed back to the client key.
type NostrWallet struct {
	timeout time.Duration
}

// NewNostrWallet creates a wallet client with the given settlement timeout
func NewNostrWallet(timeout time.Duration) *NostrWallet {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &NostrWallet{timeout: timeout}
}

type walletRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type walletResponse struct {
	ResultType string `json:"result_type"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Result *struct {
		Preimage string `json:"preimage"`
	} `json:"result"`
}

// PayInvoice performs one pay_invoice round trip and waits for settlement
func (w *NostrWallet) PayInvoice(ctx context.Context, conn *WalletConnection, invoice string) (*PaymentProof, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	clientPub, err := nostr.GetPublicKey(conn.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: derive client key: %w", ErrWalletURIMalformed, err)
	}

	shared, err := nip04.ComputeSharedSecret(conn.WalletPubKey, conn.Secret)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}

	payload, err := json.Marshal(walletRequest{
		Method: "pay_invoice",
		Params: map[string]any{"invoice": invoice},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	encrypted, err := nip04.Encrypt(string(payload), shared)
	if err != nil {
		return nil, fmt.Errorf("encrypt request: %w", err)
	}

	ev := nostr.Event{
		PubKey:    clientPub,
		CreatedAt: nostr.Now(),
		Kind:      kindWalletRequest,
		Tags:      nostr.Tags{nostr.Tag{"p", conn.WalletPubKey}},
		Content:   encrypted,
	}
	if err := ev.Sign(conn.Secret); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	relay, err := nostr.RelayConnect(ctx, conn.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("connect relay %s: %w", conn.RelayURL, err)
	}
	defer relay.Close()

	// Subscribe before publishing so the response cannot slip past us.
	sub, err := relay.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{kindWalletResponse},
		Tags: nostr.TagMap{
			"e": []string{ev.ID},
			"p": []string{clientPub},
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsub()

	if err := relay.Publish(ctx, ev); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ErrPaymentTimeout
		case response, ok := <-sub.Events:
			if !ok {
				return nil, ErrPaymentTimeout
			}
			proof, err := w.decodeResponse(response, shared)
			if err != nil {
				return nil, err
			}
			return proof, nil
		}
	}
}

func (w *NostrWallet) decodeResponse(ev *nostr.Event, shared []byte) (*PaymentProof, error) {
	plaintext, err := nip04.Decrypt(ev.Content, shared)
	if err != nil {
		return nil, fmt.Errorf("decrypt response: %w", err)
	}

	var response walletResponse
	if err := json.Unmarshal([]byte(plaintext), &response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrPaymentRejected, response.Error.Code, response.Error.Message)
	}
	if response.Result == nil || response.Result.Preimage == "" {
		return nil, fmt.Errorf("%w: response carries no preimage", ErrPaymentRejected)
	}

	return &PaymentProof{
		Preimage:  response.Result.Preimage,
		PaymentID: ev.ID,
	}, nil
}

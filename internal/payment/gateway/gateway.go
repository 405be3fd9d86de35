package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pledgeline/pledgeline/internal/config"
	"github.com/pledgeline/pledgeline/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Contact struct {
	ID string `json:"id"`
}

type OrderRequest struct {
	// IdempotencyKey dedupes order creation on the processor side. Callers
	// pass the pledge id so a retried settlement never opens a second order.
	IdempotencyKey string

	ContactRef  string `json:"contactId"`
	Amount      int64  `json:"totalAmount"`
	Currency    string `json:"currency"`
	Label       string `json:"label"`
	ExternalRef string `json:"externalUniqId,omitempty"`
}

type Order struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkoutUrl"`
}

// Gateway is the outbound client for the payment processor plus the inbound
// webhook primitives (signature check, payload parsing).
type Gateway interface {
	CreateContact(ctx context.Context, req ContactRequest) (Contact, error)
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	VerifySignature(payload []byte, signature string) error
	ParseEvent(payload []byte) (*domain.PaymentEvent, error)
}

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	maxRetries    int
	http          *http.Client
	log           *zap.Logger
}

func New(p Params) Gateway {
	maxRetries := p.Cfg.GatewayMaxRetries
	if maxRetries < 0 {
		// A negative value would convert to a huge uint64 in the retry
		// policy and retry without bound.
		maxRetries = 0
	}
	return &client{
		baseURL:       p.Cfg.GatewayBaseURL,
		apiKey:        p.Cfg.GatewayAPIKey,
		webhookSecret: p.Cfg.GatewayWebhookSecret,
		maxRetries:    maxRetries,
		http:          &http.Client{Timeout: p.Cfg.GatewayTimeout},
		log:           p.Log.Named("payment.gateway"),
	}
}

func (c *client) CreateContact(ctx context.Context, req ContactRequest) (Contact, error) {
	var contact Contact
	err := c.postJSON(ctx, "/v1/contact", "", req, &contact)
	if err != nil {
		return Contact{}, err
	}
	if strings.TrimSpace(contact.ID) == "" {
		return Contact{}, fmt.Errorf("%w: contact response missing id", domain.ErrGatewayRejected)
	}
	return contact, nil
}

func (c *client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	var order Order
	err := c.postJSON(ctx, "/v1/order", req.IdempotencyKey, req, &order)
	if err != nil {
		return Order{}, err
	}
	if strings.TrimSpace(order.ID) == "" {
		return Order{}, fmt.Errorf("%w: order response missing id", domain.ErrGatewayRejected)
	}
	return order, nil
}

// postJSON sends one JSON request with bounded exponential retries. 5xx and
// transport failures retry, 429 waits out Retry-After first, any other 4xx
// is final.
func (c *client) postJSON(ctx context.Context, path, idempotencyKey string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("%w: decode: %v", domain.ErrGatewayRejected, err))
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			c.waitRetryAfter(ctx, resp.Header.Get("Retry-After"))
			return fmt.Errorf("%w: rate limited", domain.ErrGatewayUnavailable)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
		default:
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			c.log.Warn("gateway rejected request",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.ByteString("body", detail),
			)
			return backoff.Permanent(fmt.Errorf("%w: status %d", domain.ErrGatewayRejected, resp.StatusCode))
		}
	}, policy)
}

func (c *client) waitRetryAfter(ctx context.Context, header string) {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return
	}
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// VerifySignature checks the webhook HMAC before anything in the payload is
// trusted. Comparison is constant time.
func (c *client) VerifySignature(payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" || c.webhookSecret == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

type wireEvent struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	CreatedAt int64         `json:"createdAt"`
	Data      wireEventData `json:"data"`
}

type wireEventData struct {
	ID       string      `json:"id"`
	Amount   int64       `json:"totalAmount"`
	Currency string      `json:"currency"`
	Status   string      `json:"status"`
	Contact  wireContact `json:"contact"`
}

type wireContact struct {
	Email string `json:"email"`
}

func (c *client) ParseEvent(payload []byte) (*domain.PaymentEvent, error) {
	var event wireEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case domain.EventTypeOrderPaid,
		domain.EventTypeSubscriptionCreated,
		domain.EventTypeSubscriptionUpdated,
		domain.EventTypeSubscriptionDeleted:
	default:
		return nil, domain.ErrEventIgnored
	}

	if strings.TrimSpace(event.Data.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := time.Now().UTC()
	if event.CreatedAt > 0 {
		occurredAt = time.Unix(event.CreatedAt, 0).UTC()
	}

	parsed := &domain.PaymentEvent{
		ProviderEventID: event.ID,
		Type:            eventType,
		Email:           strings.ToLower(strings.TrimSpace(event.Data.Contact.Email)),
		Amount:          event.Data.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(event.Data.Currency)),
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}
	if eventType == domain.EventTypeOrderPaid {
		parsed.OrderRef = event.Data.ID
	} else {
		parsed.SubscriptionRef = event.Data.ID
		parsed.SubscriptionState = strings.ToLower(strings.TrimSpace(event.Data.Status))
	}
	return parsed, nil
}

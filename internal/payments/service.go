package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
)

var ErrInvalidArgument = errors.New("payments: invalid argument")

// PaymentRecorder stores the payment outcome of a purchased number.
type PaymentRecorder interface {
	SetPaymentStatus(ctx context.Context, crmToken, phoneNumber, status string) error
}

type Config struct {
	// Domain is the storefront origin the checkout returns to.
	Domain   string
	Currency string
}

type Service struct {
	cfg      Config
	gateway  Gateway
	recorder PaymentRecorder
	logger   *slog.Logger
}

func NewService(cfg Config, gateway Gateway, recorder PaymentRecorder, logger *slog.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, gateway: gateway, recorder: recorder, logger: logger}
}

// CartItem is one number in the checkout cart. Price is in major units.
type CartItem struct {
	Number  string          `json:"number"`
	Price   decimal.Decimal `json:"price"`
	FlagURL string          `json:"flagUrl"`
}

type CheckoutInput struct {
	Numbers     []CartItem `json:"numbers"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phoneNumber"`
}

// CreateCheckout opens a one-off card payment session for the cart. The
// tenant token, the number and the cart total travel as session metadata.
func (s *Service) CreateCheckout(ctx context.Context, crmToken string, in CheckoutInput) (string, error) {
	if len(in.Numbers) == 0 {
		return "", fmt.Errorf("%w: numbers are required", ErrInvalidArgument)
	}
	total := decimal.Zero
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(in.Numbers))
	for _, it := range in.Numbers {
		if it.Price.IsNegative() {
			return "", fmt.Errorf("%w: negative price for %s", ErrInvalidArgument, it.Number)
		}
		total = total.Add(it.Price)
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(it.Number)}
		if it.FlagURL != "" {
			product.Images = []*string{stripe.String(it.FlagURL)}
		}
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(s.cfg.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(it.Price.Shift(2).Round(0).IntPart()),
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: []*string{stripe.String("card")},
		LineItems:          items,
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(s.cfg.Domain + "/return?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripe.String(s.cfg.Domain + "/cancel"),
		Metadata: map[string]string{
			"phoneNumber": in.PhoneNumber,
			"token":       crmToken,
			"pricePaid":   total.String(),
		},
	}
	if e := strings.TrimSpace(in.Email); e != "" {
		params.CustomerEmail = stripe.String(e)
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", err
	}
	s.logger.Info("checkout session created", "session_id", sess.ID, "phone", in.PhoneNumber, "total", total.String())
	return sess.ID, nil
}

// SessionStatus is what the storefront polls after the checkout redirect.
type SessionStatus struct {
	Status        string `json:"status"`
	CustomerEmail string `json:"customer_email"`
	PhoneNumber   string `json:"phoneNumber"`
	Token         string `json:"token"`
	PricePaid     string `json:"pricePaid"`
}

func (s *Service) SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionStatus{}, fmt.Errorf("%w: session_id is required", ErrInvalidArgument)
	}
	sess, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return SessionStatus{}, err
	}
	return statusOf(sess), nil
}

func statusOf(sess *stripe.CheckoutSession) SessionStatus {
	out := SessionStatus{
		Status:        string(sess.PaymentStatus),
		CustomerEmail: sess.CustomerEmail,
		PhoneNumber:   sess.Metadata["phoneNumber"],
		Token:         sess.Metadata["token"],
		PricePaid:     sess.Metadata["pricePaid"],
	}
	if out.CustomerEmail == "" && sess.CustomerDetails != nil {
		out.CustomerEmail = sess.CustomerDetails.Email
	}
	return out
}

// HandleWebhook verifies a Stripe event and records completed checkouts.
// Other event types are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if ev.Type != stripe.EventTypeCheckoutSessionCompleted {
		s.logger.Debug("stripe event ignored", "event_id", ev.ID, "type", string(ev.Type))
		return nil
	}
	if ev.Data == nil {
		return fmt.Errorf("%w: event without data", ErrInvalidArgument)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	st := statusOf(&sess)
	if st.Token == "" || st.PhoneNumber == "" {
		s.logger.Warn("checkout session without purchase metadata", "session_id", sess.ID)
		return nil
	}
	if err := s.recorder.SetPaymentStatus(ctx, st.Token, st.PhoneNumber, st.Status); err != nil {
		return fmt.Errorf("record payment for %s: %w", sess.ID, err)
	}
	s.logger.Info("payment recorded", "session_id", sess.ID, "phone", st.PhoneNumber, "status", st.Status)
	return nil
}

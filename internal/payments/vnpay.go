package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"github.com/tanngo729/storefront-gateway/internal/domain"
	"github.com/tanngo729/storefront-gateway/internal/remote"
)

// Query parameter names of the gateway return contract.
const (
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamTxnRef            = "vnp_TxnRef"
	ParamOrderInfo         = "vnp_OrderInfo"
	ParamSecureHash        = "vnp_SecureHash"
	ParamSecureHashType    = "vnp_SecureHashType"

	// ParamSource is added by the gateway to its own return URL so a
	// normal page load is distinguishable from a gateway return.
	ParamSource = "source"
	// ParamPaymentFailed is added to the cancel URL.
	ParamPaymentFailed = "payment_failed"

	// SourceVNPay is the value of ParamSource on a gateway return.
	SourceVNPay = "vnpay"

	responseCodeSuccess = "00"
)

// ErrInvalidReturn indicates the redirect-return parameters failed
// verification; it is always treated as payment failure, never success.
var ErrInvalidReturn = errors.New("payments: invalid gateway return")

// ReturnOutcome classifies a parsed gateway return.
type ReturnOutcome string

const (
	// ReturnSuccess means the return carried the success hint and the
	// authoritative server read confirmed payment.
	ReturnSuccess ReturnOutcome = "success"
	// ReturnFailed means the gateway reported failure or the hint could
	// not be confirmed server-side.
	ReturnFailed ReturnOutcome = "failed"
	// ReturnCancelled means the customer abandoned payment at the gateway.
	ReturnCancelled ReturnOutcome = "cancelled"
)

// ReturnResult is the reconciled outcome of a gateway return.
type ReturnResult struct {
	OrderID    string
	Outcome    ReturnOutcome
	ReasonCode string
	Reason     string
	Order      domain.Order
}

// VNPayProvider hands orders to the redirect gateway through the Bridge.
type VNPayProvider struct {
	bridge *Bridge
}

// NewVNPayProvider constructs the gateway provider.
func NewVNPayProvider(bridge *Bridge) (*VNPayProvider, error) {
	if bridge == nil {
		return nil, errors.New("payments: bridge is required")
	}
	return &VNPayProvider{bridge: bridge}, nil
}

// Kind reports the gateway method kind.
func (p *VNPayProvider) Kind() domain.PaymentMethodKind { return domain.PaymentMethodGateway }

// Confirm creates the temporary order and returns the redirect URL; the
// in-memory checkout session is abandoned once the browser navigates.
func (p *VNPayProvider) Confirm(ctx context.Context, draft remote.OrderDraft) (ConfirmResult, error) {
	started, err := p.bridge.Start(ctx, draft)
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Order: started.Order, RedirectURL: started.RedirectURL}, nil
}

// verifySecureHash checks the HMAC-SHA512 signature over the sorted
// vnp_ parameters. The hash and hash-type fields are excluded from the
// signing base.
func verifySecureHash(query url.Values, secret string) bool {
	if secret == "" {
		// Never verifiable without a secret; fail closed.
		return false
	}
	received := strings.TrimSpace(query.Get(ParamSecureHash))
	if received == "" {
		return false
	}

	signed := url.Values{}
	for key, values := range query {
		if !strings.HasPrefix(key, "vnp_") {
			continue
		}
		if key == ParamSecureHash || key == ParamSecureHashType {
			continue
		}
		for _, v := range values {
			signed.Add(key, v)
		}
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(signed.Encode()))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(received)), []byte(expected))
}

// orderIDFromReturn extracts the order identifier, preferring the
// transaction reference and falling back to the order-info field.
func orderIDFromReturn(query url.Values) string {
	if ref := strings.TrimSpace(query.Get(ParamTxnRef)); ref != "" {
		return ref
	}
	info := strings.TrimSpace(query.Get(ParamOrderInfo))
	// The original embeds the id as the last segment of the order info.
	if idx := strings.LastIndexAny(info, ": "); idx >= 0 {
		info = info[idx+1:]
	}
	return strings.TrimSpace(info)
}

// failureReason maps gateway response codes to user-facing reasons so a
// timeout reads differently from a rejection.
func failureReason(code string) string {
	switch code {
	case "07":
		return "transaction flagged as suspicious"
	case "09", "10":
		return "card authentication failed"
	case "11":
		return "payment window expired"
	case "12":
		return "card or account is locked"
	case "13":
		return "wrong one-time password"
	case "24":
		return "payment was cancelled"
	case "51":
		return "insufficient funds"
	case "65":
		return "daily transaction limit exceeded"
	case "75":
		return "issuing bank is under maintenance"
	case "79":
		return "wrong payment password"
	default:
		return "payment was rejected by the gateway"
	}
}

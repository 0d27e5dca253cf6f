package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type createPaymentURLRequest struct {
	ReturnURL string `json:"returnUrl"`
	CancelURL string `json:"cancelUrl"`
}

type createPaymentURLResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// CreatePaymentURL requests a gateway redirect URL scoped to the order.
func (c *Client) CreatePaymentURL(ctx context.Context, orderID, returnURL, cancelURL string) (string, error) {
	path := fmt.Sprintf("/payment/vnpay/create-payment/%s", url.PathEscape(orderID))
	req := createPaymentURLRequest{ReturnURL: returnURL, CancelURL: cancelURL}
	var resp createPaymentURLResponse
	if err := c.do(ctx, "payment.create_url", http.MethodPost, path, req, &resp, callOptions{}); err != nil {
		return "", err
	}
	redirect := strings.TrimSpace(resp.RedirectURL)
	if redirect == "" {
		return "", &Error{Kind: KindUnavailable, Op: "payment.create_url", Message: "gateway returned empty redirect url"}
	}
	return redirect, nil
}

package payments

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"
)

func signQuery(query url.Values, secret string) {
	signed := url.Values{}
	for key, values := range query {
		if !strings.HasPrefix(key, "vnp_") || key == ParamSecureHash || key == ParamSecureHashType {
			continue
		}
		for _, v := range values {
			signed.Add(key, v)
		}
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(signed.Encode()))
	query.Set(ParamSecureHash, hex.EncodeToString(mac.Sum(nil)))
}

func successReturnQuery(orderID, secret string) url.Values {
	query := url.Values{}
	query.Set(ParamTxnRef, orderID)
	query.Set(ParamResponseCode, "00")
	query.Set(ParamTransactionStatus, "00")
	query.Set("vnp_Amount", "50000000")
	query.Set("vnp_TmnCode", "TESTCODE")
	query.Set(ParamSource, SourceVNPay)
	signQuery(query, secret)
	return query
}

func TestVerifySecureHashAcceptsSignedParams(t *testing.T) {
	query := successReturnQuery("order-1", "s3cret")
	if !verifySecureHash(query, "s3cret") {
		t.Fatal("expected signed query to verify")
	}
}

func TestVerifySecureHashRejectsTamperedParams(t *testing.T) {
	query := successReturnQuery("order-1", "s3cret")
	query.Set("vnp_Amount", "1")
	if verifySecureHash(query, "s3cret") {
		t.Fatal("tampered query must not verify")
	}
}

func TestVerifySecureHashRejectsEmptySecret(t *testing.T) {
	query := successReturnQuery("order-1", "")
	if verifySecureHash(query, "") {
		t.Fatal("verification without a secret must fail closed")
	}
}

func TestVerifySecureHashRejectsMissingHash(t *testing.T) {
	query := successReturnQuery("order-1", "s3cret")
	query.Del(ParamSecureHash)
	if verifySecureHash(query, "s3cret") {
		t.Fatal("query without hash must not verify")
	}
}

func TestVerifySecureHashIgnoresNonGatewayParams(t *testing.T) {
	query := successReturnQuery("order-1", "s3cret")
	// App-added routing params are outside the signing base.
	query.Set(ParamPaymentFailed, "false")
	query.Set("session", "abc")
	if !verifySecureHash(query, "s3cret") {
		t.Fatal("non-vnp params must not affect verification")
	}
}

func TestOrderIDFromReturnPrefersTxnRef(t *testing.T) {
	query := url.Values{}
	query.Set(ParamTxnRef, "order-9")
	query.Set(ParamOrderInfo, "Thanh toan don hang: order-other")
	if got := orderIDFromReturn(query); got != "order-9" {
		t.Fatalf("orderIDFromReturn = %q, want order-9", got)
	}
}

func TestOrderIDFromReturnFallsBackToOrderInfo(t *testing.T) {
	query := url.Values{}
	query.Set(ParamOrderInfo, "Thanh toan don hang: order-42")
	if got := orderIDFromReturn(query); got != "order-42" {
		t.Fatalf("orderIDFromReturn = %q, want order-42", got)
	}
}

func TestFailureReasonDistinguishesCodes(t *testing.T) {
	cases := map[string]string{
		"24": "payment was cancelled",
		"11": "payment window expired",
		"51": "insufficient funds",
		"75": "issuing bank is under maintenance",
	}
	for code, want := range cases {
		if got := failureReason(code); got != want {
			t.Fatalf("failureReason(%s) = %q, want %q", code, got, want)
		}
	}
	if failureReason("99") == failureReason("24") {
		t.Fatal("unknown codes must not read as cancellation")
	}
}

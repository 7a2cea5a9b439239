package payment

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"html"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"checkout-service/config"
	"checkout-service/internal/apperr"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const (
	methodPagePay   = "alipay.trade.page.pay"
	productCodePage = "FAST_INSTANT_TRADE_PAY"
	signTypeRSA2    = "RSA2"
	timestampLayout = "2006-01-02 15:04:05"
)

// AlipayGateway builds RSA2-signed page-pay forms and verifies notifications
type AlipayGateway struct {
	gatewayURL  string
	appID       string
	notifyURL   string
	returnURL   string
	privateKey  *rsa.PrivateKey
	providerKey *rsa.PublicKey
	now         func() time.Time
}

var _ Gateway = (*AlipayGateway)(nil)

// NewAlipayGateway parses the configured key pair
func NewAlipayGateway(cfg config.AlipayConfig) (*AlipayGateway, error) {
	privateKey, err := ParsePrivateKey(cfg.AppPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse app private key: %w", err)
	}
	providerKey, err := ParsePublicKey(cfg.ProviderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider public key: %w", err)
	}

	return &AlipayGateway{
		gatewayURL:  cfg.GatewayURL,
		appID:       cfg.AppID,
		notifyURL:   cfg.NotifyURL,
		returnURL:   cfg.ReturnURL,
		privateKey:  privateKey,
		providerKey: providerKey,
		now:         time.Now,
	}, nil
}

// RequestPayment signs a page-pay request for the order. Nothing leaves the
// process here; the buyer's browser submits the form.
func (g *AlipayGateway) RequestPayment(ctx context.Context, req Request) (*Form, error) {
	_, span := util.StartSpan(ctx, "AlipayGateway.RequestPayment")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.OrderID <= 0 || req.Amount < 0 {
		return nil, apperr.ErrInvalidArgument.WithDetail("payment request for order %d", req.OrderID)
	}

	subject := req.Subject
	if subject == "" {
		subject = fmt.Sprintf("Order %d", req.OrderID)
	}
	bizContent, err := json.Marshal(map[string]string{
		"out_trade_no": strconv.FormatInt(req.OrderID, 10),
		"total_amount": FormatAmount(req.Amount),
		"subject":      subject,
		"product_code": productCodePage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal biz content: %w", err)
	}

	fields := map[string]string{
		"app_id":      g.appID,
		"method":      methodPagePay,
		"format":      "JSON",
		"charset":     "utf-8",
		"sign_type":   signTypeRSA2,
		"timestamp":   g.now().Format(timestampLayout),
		"version":     "1.0",
		"notify_url":  g.notifyURL,
		"return_url":  g.returnURL,
		"biz_content": string(bizContent),
	}
	sign, err := Sign(fields, g.privateKey)
	if err != nil {
		return nil, err
	}
	fields["sign"] = sign

	util.GetLogger().Info("Payment form signed",
		zap.Int64("order_id", req.OrderID),
		zap.String("total_amount", FormatAmount(req.Amount)))

	return &Form{
		Action: g.gatewayURL + "?charset=utf-8",
		Fields: fields,
		HTML:   renderForm(g.gatewayURL+"?charset=utf-8", fields),
	}, nil
}

// ParseAndAuthenticate verifies the RSA2 signature, then reads the fields
func (g *AlipayGateway) ParseAndAuthenticate(values url.Values) (*Notification, error) {
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}

	if st := params["sign_type"]; st != "" && st != signTypeRSA2 {
		return nil, apperr.ErrInvalidSignature.WithDetail("sign_type %q", st)
	}
	if err := Verify(params, params["sign"], g.providerKey); err != nil {
		return nil, apperr.ErrInvalidSignature.Wrap(err)
	}
	if appID := params["app_id"]; appID != "" && g.appID != "" && appID != g.appID {
		return nil, apperr.ErrInvalidSignature.WithDetail("app_id %q", appID)
	}

	ref := params["out_trade_no"]
	orderID, err := parseOrderID(ref)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount(params["total_amount"])
	if err != nil {
		return nil, err
	}

	return &Notification{
		MerchantReference: ref,
		OrderID:           orderID,
		TradeNo:           params["trade_no"],
		NotifyID:          params["notify_id"],
		Amount:            amount,
		Status:            params["trade_status"],
	}, nil
}

// SignContent is the provider's canonical string: sorted k=v pairs joined by
// '&', without sign, sign_type or empty values
func SignContent(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Sign produces a base64 SHA256withRSA signature over SignContent(params)
func Sign(params map[string]string, key *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256([]byte(SignContent(params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign payment params: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 SHA256withRSA signature over SignContent(params)
func Verify(params map[string]string, sign string, key *rsa.PublicKey) error {
	if sign == "" {
		return errors.New("missing sign")
	}
	sig, err := base64.StdEncoding.DecodeString(sign)
	if err != nil {
		return fmt.Errorf("decode sign: %w", err)
	}
	digest := sha256.Sum256([]byte(SignContent(params)))
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig)
}

// ParsePrivateKey accepts PEM or bare base64 DER, PKCS#8 or PKCS#1
func ParsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	der, err := decodeKey(raw)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(der)
}

// ParsePublicKey accepts PEM or bare base64 DER in PKIX or PKCS#1 form
func ParsePublicKey(raw string) (*rsa.PublicKey, error) {
	der, err := decodeKey(raw)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PublicKey(der)
}

func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty key")
	}
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		return block.Bytes, nil
	}
	return base64.StdEncoding.DecodeString(raw)
}

func renderForm(action string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, `<form name="punchout_form" method="post" action="%s">`, html.EscapeString(action))
	for _, k := range keys {
		fmt.Fprintf(&b, `<input type="hidden" name="%s" value="%s">`, html.EscapeString(k), html.EscapeString(fields[k]))
	}
	b.WriteString(`<input type="submit" value="Pay" style="display:none"></form>`)
	b.WriteString(`<script>document.forms[0].submit();</script>`)
	return b.String()
}

// Command sign-callback builds a signed payment gateway callback and
// optionally delivers it, for local testing against the service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/payment"
	"github.com/spf13/pflag"
)

type callbackBody struct {
	OrderRef   string `json:"orderRef"`
	PaymentRef string `json:"paymentRef"`
	Signature  string `json:"signature"`
}

var errUsage = errors.New("sign-callback: --secret, --order-ref and --payment-ref are required")

func main() {
	if err := run(os.Args[1:], os.Stdout, http.DefaultClient); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, client *http.Client) error {
	fs := pflag.NewFlagSet("sign-callback", pflag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("PAYMENT_SECRET"), "shared gateway secret")
	orderRef := fs.String("order-ref", "", "order reference")
	paymentRef := fs.String("payment-ref", "", "gateway payment reference")
	url := fs.String("url", "", "POST the callback here, e.g. http://localhost:8080/payment/verify")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" || *orderRef == "" || *paymentRef == "" {
		return errUsage
	}

	body, err := json.Marshal(callbackBody{
		OrderRef:   *orderRef,
		PaymentRef: *paymentRef,
		Signature:  payment.Sign(*orderRef, *paymentRef, *secret),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(body))
	if *url == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sign-callback: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sign-callback: post: %w", err)
	}
	defer resp.Body.Close()

	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	fmt.Fprintf(out, "%d %s\n", resp.StatusCode, strings.TrimSpace(string(reply)))
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sign-callback: gateway callback rejected with status %d", resp.StatusCode)
	}
	return nil
}

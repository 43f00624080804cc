// Package paymentprovider реализует клиент платёжного провайдера (ЮKassa).
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client — клиент API платёжного провайдера.
type Client struct {
	shopID     string
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент ЮKassa.
func NewClient(shopID, secretKey string) *Client {
	return &Client{
		shopID:     shopID,
		secretKey:  secretKey,
		apiURL:     "https://api.yookassa.ru/v3",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	url := c.apiURL + path
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	auth := base64.StdEncoding.EncodeToString([]byte(c.shopID + ":" + c.secretKey))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		// Провайдер требует ключ идемпотентности на создающих запросах
		req.Header.Set("Idempotence-Key", uuid.NewString())
	}
	return req, nil
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.New("unexpected status: " + resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// CreatePayment отправляет запрос на создание платежа.
func (c *Client) CreatePayment(ctx context.Context, reqParams CreatePaymentRequest) (*Payment, error) {
	const op = "paymentprovider.CreatePayment"

	req, err := c.newRequest(ctx, http.MethodPost, "/payments", reqParams)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var payment Payment
	if err := c.do(req, &payment); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &payment, nil
}

// GetPayment возвращает текущее состояние платежа по его ID.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	const op = "paymentprovider.GetPayment"

	req, err := c.newRequest(ctx, http.MethodGet, "/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var payment Payment
	if err := c.do(req, &payment); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &payment, nil
}

// FormatAmountMinor переводит сумму в минорных единицах в строку формата
// провайдера, например 29900 -> "299.00".
func FormatAmountMinor(amountMinor int64) string {
	return fmt.Sprintf("%d.%02d", amountMinor/100, amountMinor%100)
}

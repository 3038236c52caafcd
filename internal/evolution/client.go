// Package evolution is the gateway to the Evolution WhatsApp provider
// API: instance provisioning, session control and outbound messages.
package evolution

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Webhook events the platform subscribes every instance to.
var WebhookEvents = []string{
	"QRCODE_UPDATED",
	"CONNECTION_UPDATE",
	"MESSAGES_UPSERT",
}

// API is the provider surface the rest of the platform depends on.
// Implementations must translate non-2xx replies into *APIError.
type API interface {
	CreateInstance(ctx context.Context, instance, token string) error
	DeleteInstance(ctx context.Context, instance, token string) error
	Connect(ctx context.Context, instance, token string) (string, error)
	Logout(ctx context.Context, instance, token string) error
	ConnectionState(ctx context.Context, instance, token string) (string, error)
	FetchQR(ctx context.Context, instance, token string) (string, error)
	SendText(ctx context.Context, instance, token, phone, text string) error
	SetWebhook(ctx context.Context, instance, token, hookURL string) error
}

// Gateway talks to one Evolution API deployment on behalf of every
// client instance.
type Gateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

var _ API = (*Gateway)(nil)

func NewGateway(baseURL, apiKey string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: 30 * time.Second,
	}
}

// authHeader prefers the per-instance token and falls back to the
// deployment key for management calls.
func (g *Gateway) authHeader(token string) gout.H {
	key := token
	if key == "" {
		key = g.apiKey
	}
	return gout.H{"apikey": key, "Content-Type": "application/json"}
}

func (g *Gateway) do(ctx context.Context, df *dataflow.DataFlow, out interface{}) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	var (
		code int
		body []byte
	)
	err := df.Code(&code).BindBody(&body).WithContext(ctx).Do()
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		apiErr := &APIError{Status: code}
		var envelope struct {
			Error   string      `json:"error"`
			Message interface{} `json:"message"`
			Response struct {
				Message interface{} `json:"message"`
			} `json:"response"`
		}
		if err := json.Unmarshal(body, &envelope); err == nil {
			apiErr.Code = envelope.Error
			apiErr.Message = flattenMessage(envelope.Message)
			if apiErr.Message == "" {
				apiErr.Message = flattenMessage(envelope.Response.Message)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode provider reply: %w", err)
		}
	}
	return nil
}

// flattenMessage tolerates the provider's habit of sending either a
// string or an array of strings in the message field.
func flattenMessage(v interface{}) string {
	switch m := v.(type) {
	case string:
		return m
	case []interface{}:
		if len(m) > 0 {
			if s, ok := m[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func (g *Gateway) CreateInstance(ctx context.Context, instance, token string) error {
	payload := map[string]interface{}{
		"instanceName": instance,
		"token":        token,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	err := g.do(ctx, gout.POST(g.baseURL+"/instance/create").
		SetHeader(g.authHeader("")).
		SetJSON(payload), nil)
	if IsConflict(err) {
		// the instance survived a previous run, reuse it
		zap.L().Info("provider instance already exists",
			zap.String("namespace", "evolution"),
			zap.String("instance", instance))
		return nil
	}
	return err
}

func (g *Gateway) DeleteInstance(ctx context.Context, instance, token string) error {
	return g.do(ctx, gout.DELETE(g.baseURL+"/instance/delete/"+url.PathEscape(instance)).
		SetHeader(g.authHeader(token)), nil)
}

type connectResult struct {
	Base64 string `json:"base64"`
	Code   string `json:"code"`
	QRCode struct {
		Base64 string `json:"base64"`
	} `json:"qrcode"`
}

func (c connectResult) qr() string {
	if c.Base64 != "" {
		return c.Base64
	}
	return c.QRCode.Base64
}

// Connect starts a pairing session. The returned QR payload is empty
// when the instance is already paired.
func (g *Gateway) Connect(ctx context.Context, instance, token string) (string, error) {
	var result connectResult
	err := g.do(ctx, gout.GET(g.baseURL+"/instance/connect/"+url.PathEscape(instance)).
		SetHeader(g.authHeader(token)), &result)
	if err != nil {
		return "", err
	}
	return result.qr(), nil
}

func (g *Gateway) Logout(ctx context.Context, instance, token string) error {
	return g.do(ctx, gout.DELETE(g.baseURL+"/instance/logout/"+url.PathEscape(instance)).
		SetHeader(g.authHeader(token)), nil)
}

func (g *Gateway) ConnectionState(ctx context.Context, instance, token string) (string, error) {
	var result struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
		State string `json:"state"`
	}
	err := g.do(ctx, gout.GET(g.baseURL+"/instance/connectionState/"+url.PathEscape(instance)).
		SetHeader(g.authHeader(token)), &result)
	if err != nil {
		return "", err
	}
	if result.Instance.State != "" {
		return result.Instance.State, nil
	}
	return result.State, nil
}

// FetchQR refreshes the pairing code without restarting the session.
func (g *Gateway) FetchQR(ctx context.Context, instance, token string) (string, error) {
	return g.Connect(ctx, instance, token)
}

func (g *Gateway) SendText(ctx context.Context, instance, token, phone, text string) error {
	payload := map[string]interface{}{
		"number": phone,
		"text":   text,
	}
	return g.do(ctx, gout.POST(g.baseURL+"/message/sendText/"+url.PathEscape(instance)).
		SetHeader(g.authHeader(token)).
		SetJSON(payload), nil)
}

func (g *Gateway) SetWebhook(ctx context.Context, instance, token, hookURL string) error {
	payload := map[string]interface{}{
		"enabled": true,
		"url":     hookURL,
		"events":  WebhookEvents,
	}
	return g.do(ctx, gout.POST(g.baseURL+"/webhook/set/"+url.PathEscape(instance)).
		SetHeader(g.authHeader(token)).
		SetJSON(payload), nil)
}

// InstanceClient is a per-tenant handle bound to one provider
// instance, shared through the client cache.
type InstanceClient struct {
	Instance string
	Token    string
	api      API
}

func NewInstanceClient(api API, instance, token string) *InstanceClient {
	return &InstanceClient{Instance: instance, Token: token, api: api}
}

func (c *InstanceClient) Connect(ctx context.Context) (string, error) {
	return c.api.Connect(ctx, c.Instance, c.Token)
}

func (c *InstanceClient) Logout(ctx context.Context) error {
	return c.api.Logout(ctx, c.Instance, c.Token)
}

func (c *InstanceClient) State(ctx context.Context) (string, error) {
	return c.api.ConnectionState(ctx, c.Instance, c.Token)
}

func (c *InstanceClient) SendText(ctx context.Context, phone, text string) error {
	return c.api.SendText(ctx, c.Instance, c.Token, phone, text)
}

// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Resolver 把服务名解析为 base URL（例如 http://10.0.0.3:3001）
type Resolver interface {
	ResolveBaseURL(serviceName string) (string, error)
}

// StaticResolver 总是返回固定地址，用于配置了直连地址或测试的场景
type StaticResolver string

func (r StaticResolver) ResolveBaseURL(string) (string, error) {
	return strings.TrimRight(string(r), "/"), nil
}

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.Service, e.Code, e.Body)
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   Resolver
}

// NewClient 创建一个新的客户端实例。
// http.Client 不设置 Timeout，完全受控于每次请求传入的 context。
func NewClient(tracer trace.Tracer, resolver Resolver) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
		Resolver:   resolver,
	}
}

// PostJSON 把 in 编码为 JSON 发送到 serviceName 的 path，并把响应解码到 out
func (c *Client) PostJSON(ctx context.Context, serviceName, path string, in, out any) error {
	ctx, span := c.Tracer.Start(ctx, fmt.Sprintf("call-%s", serviceName), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	baseURL, err := c.Resolver.ResolveBaseURL(serviceName)
	if err != nil {
		return fail(err)
	}
	target := baseURL + path

	body, err := json.Marshal(in)
	if err != nil {
		return fail(fmt.Errorf("encode request for %s: %w", serviceName, err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", http.MethodPost),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fail(&StatusError{Service: serviceName, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(fmt.Errorf("decode response from %s: %w", serviceName, err))
	}
	return nil
}

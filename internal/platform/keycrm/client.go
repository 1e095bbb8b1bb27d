package keycrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform"
)

const (
	defaultBaseURL = "https://openapi.keycrm.app/v1/"
	defaultTimeout = 10 * time.Second
	defaultLimit   = 10
	maxLimit       = 50

	maxResponseSize = 10 * 1024 * 1024
)

// Config 客户端配置
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client KeyCRM Open API 客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 创建 KeyCRM 客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("keycrm api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// FetchRecentOrders 拉取最近订单（按创建时间倒序）
func (c *Client) FetchRecentOrders(ctx context.Context, limit int, include string) ([]matching.OrderRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("page", "1")
	query.Set("sort", "-created_at")
	if include != "" {
		query.Set("include", include)
	}

	body, err := c.do(ctx, http.MethodGet, "order?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode keycrm response failed: %w", err)
	}

	return unwrapOrderList(payload), nil
}

// FetchOrderByID 按 ID 拉取单条订单；404 返回 (nil, nil)
func (c *Client) FetchOrderByID(ctx context.Context, orderID string, include string) (matching.OrderRecord, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order id is required")
	}

	path := "order/" + url.PathEscape(orderID)
	if include != "" {
		query := url.Values{}
		query.Set("include", include)
		path += "?" + query.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if apiErr, ok := err.(*platform.APIError); ok && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode keycrm response failed: %w", err)
	}

	record, ok := matching.AsRecord(payload)
	if !ok {
		return nil, nil
	}

	// 单条响应可能包裹在 data 成员里
	if nested, ok := matching.AsRecord(record["data"]); ok {
		return nested, nil
	}
	return record, nil
}

// UpdateOrder 更新订单（PUT order/{id}）
func (c *Client) UpdateOrder(ctx context.Context, orderID string, payload map[string]interface{}) error {
	if orderID == "" {
		return fmt.Errorf("order id is required")
	}
	if payload == nil {
		return fmt.Errorf("update payload is required")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal update payload failed: %w", err)
	}

	_, err = c.do(ctx, http.MethodPut, "order/"+url.PathEscape(orderID), bytes.NewReader(data))
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build keycrm request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keycrm request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read keycrm response failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, platform.NewAPIError("keycrm", resp.StatusCode, apiMessage(data))
	}

	return data, nil
}

// unwrapOrderList 列表响应兼容 data / orders 包裹或裸数组
func unwrapOrderList(payload interface{}) []matching.OrderRecord {
	if record, ok := matching.AsRecord(payload); ok {
		for _, key := range []string{"data", "orders"} {
			if list, ok := record[key].([]interface{}); ok {
				return toRecords(list)
			}
		}
		return nil
	}

	if list, ok := payload.([]interface{}); ok {
		return toRecords(list)
	}

	return nil
}

func toRecords(list []interface{}) []matching.OrderRecord {
	orders := make([]matching.OrderRecord, 0, len(list))
	for _, entry := range list {
		if record, ok := matching.AsRecord(entry); ok {
			orders = append(orders, record)
		}
	}
	return orders
}

func apiMessage(data []byte) string {
	var envelope struct {
		Description string `json:"description"`
		Message     string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Description != "" {
			return envelope.Description
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}

	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

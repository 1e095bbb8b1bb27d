package rozetka

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/VasulenkoIllia/rozetka-keycrm/internal/matching"
	"github.com/VasulenkoIllia/rozetka-keycrm/internal/platform"
)

const (
	defaultBaseURL = "https://api-seller.rozetka.com.ua/"
	defaultTimeout = 10 * time.Second
	defaultPerPage = 10
	maxPerPage     = 100

	// maxResponseSize 响应体大小上限，防止内存被异常响应打爆
	maxResponseSize = 10 * 1024 * 1024
)

// Config 客户端配置
type Config struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// Client Rozetka 卖家 API 客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 创建 Rozetka 客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("rozetka api token is required")
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
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// CheckToken 校验 API token 有效性
func (c *Client) CheckToken(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "token/check", nil)
	return err
}

// FetchRecentOrders 拉取订单列表（orders/search）
// 返回值是动态结构的订单记录序列，字段形态由平台决定
func (c *Client) FetchRecentOrders(ctx context.Context, opts platform.ListOptions) ([]matching.OrderRecord, error) {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	page := opts.Page
	if page <= 0 {
		page = 1
	}

	expand := opts.Expand
	if expand == "" {
		expand = "user,delivery,purchases"
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	query.Set("expand", expand)

	body, err := c.do(ctx, http.MethodGet, "orders/search?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode rozetka response failed: %w", err)
	}

	return extractOrders(payload, make(map[uintptr]struct{})), nil
}

// do 执行请求并读取响应体
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build rozetka request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rozetka request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read rozetka response failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, platform.NewAPIError("rozetka", resp.StatusCode, apiMessage(data))
	}

	return data, nil
}

// 订单数组常见的包裹键
var orderEnvelopeKeys = []string{"orders", "data", "result", "content", "items", "list", "rows"}

// extractOrders 从任意形态的响应中递归找出订单数组
// 先试常见包裹键，再遍历全部成员；visited 按对象身份判重
func extractOrders(payload interface{}, visited map[uintptr]struct{}) []matching.OrderRecord {
	switch value := payload.(type) {
	case []interface{}:
		ptr := reflect.ValueOf(value).Pointer()
		if _, seen := visited[ptr]; seen {
			return nil
		}
		visited[ptr] = struct{}{}

		if len(value) == 0 {
			return nil
		}

		orders := make([]matching.OrderRecord, 0, len(value))
		for _, entry := range value {
			record, ok := matching.AsRecord(entry)
			if !ok {
				return nil
			}
			orders = append(orders, record)
		}
		return orders

	case map[string]interface{}:
		ptr := reflect.ValueOf(value).Pointer()
		if _, seen := visited[ptr]; seen {
			return nil
		}
		visited[ptr] = struct{}{}

		for _, key := range orderEnvelopeKeys {
			if nested, ok := value[key]; ok {
				if orders := extractOrders(nested, visited); len(orders) > 0 {
					return orders
				}
			}
		}

		for _, nested := range value {
			if orders := extractOrders(nested, visited); len(orders) > 0 {
				return orders
			}
		}
	}

	return nil
}

// apiMessage 从错误响应中提取可读信息
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

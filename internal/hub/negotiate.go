package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// negotiateResponse 协商响应（negotiateVersion=1）
type negotiateResponse struct {
	ConnectionID        string `json:"connectionId"`
	ConnectionToken     string `json:"connectionToken"`
	NegotiateVersion    int    `json:"negotiateVersion"`
	AvailableTransports []struct {
		Transport       string   `json:"transport"`
		TransferFormats []string `json:"transferFormats"`
	} `json:"availableTransports"`
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
	Error       string `json:"error"`
}

// maxNegotiateRedirects 服务端可将客户端重定向到其他 Hub 地址
const maxNegotiateRedirects = 3

// negotiate 协商连接，返回最终的 Hub 地址、连接令牌与访问令牌
func (c *Connection) negotiate(ctx context.Context, endpoint, token string) (string, string, string, error) {
	for i := 0; i <= maxNegotiateRedirects; i++ {
		resp, err := c.postNegotiate(ctx, endpoint, token)
		if err != nil {
			return "", "", "", err
		}
		if resp.Error != "" {
			return "", "", "", fmt.Errorf("协商被拒绝: %s", resp.Error)
		}
		if resp.URL != "" {
			endpoint = resp.URL
			if resp.AccessToken != "" {
				token = resp.AccessToken
			}
			continue
		}

		if !supportsWebSockets(resp) {
			return "", "", "", errors.New("服务端不支持 WebSockets 传输")
		}

		id := resp.ConnectionToken
		if resp.NegotiateVersion == 0 || id == "" {
			id = resp.ConnectionID
		}
		return endpoint, id, token, nil
	}
	return "", "", "", errors.New("协商重定向次数过多")
}

func (c *Connection) postNegotiate(ctx context.Context, endpoint, token string) (*negotiateResponse, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/") + "/negotiate")
	if err != nil {
		return nil, fmt.Errorf("Hub 地址无效: %w", err)
	}
	q := u.Query()
	q.Set("negotiateVersion", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("协商请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("读取协商响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("协商返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out negotiateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("解析协商响应失败: %w", err)
	}
	return &out, nil
}

func supportsWebSockets(resp *negotiateResponse) bool {
	for _, t := range resp.AvailableTransports {
		if t.Transport == "WebSockets" {
			return true
		}
	}
	return false
}

// websocketURL 将 http(s) Hub 地址转换为 ws(s) 地址并附加连接令牌
func websocketURL(endpoint, connectionID string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("Hub 地址无效: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("不支持的 Hub 协议 %q", u.Scheme)
	}
	if connectionID != "" {
		q := u.Query()
		q.Set("id", connectionID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

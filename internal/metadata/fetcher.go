// Package metadata 从 Kraken REST 接口获取交易对元数据，校验并规范化配置中的交易对。
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAssetPairsURL Kraken 交易对元数据接口
const DefaultAssetPairsURL = "https://api.kraken.com/0/public/AssetPairs"

// Fetcher 元数据获取器接口
type Fetcher interface {
	// FetchAssetPairs 获取全部交易对
	FetchAssetPairs(ctx context.Context, url string) (map[string]AssetPair, error)
}

// HTTPFetcher HTTP 元数据获取器
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchAssetPairs 获取 Kraken 交易对元数据
func (f *HTTPFetcher) FetchAssetPairs(ctx context.Context, url string) (map[string]AssetPair, error) {
	if url == "" {
		url = DefaultAssetPairsURL
	}
	body, err := f.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("请求 Kraken 元数据失败: %w", err)
	}

	var resp AssetPairsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析 Kraken 元数据失败: %w", err)
	}
	if len(resp.Error) > 0 {
		return nil, fmt.Errorf("Kraken API 返回错误: %s", strings.Join(resp.Error, "; "))
	}
	if len(resp.Result) == 0 {
		return nil, fmt.Errorf("Kraken API 返回空交易对列表")
	}

	return resp.Result, nil
}

func (f *HTTPFetcher) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("User-Agent", "orderbook-timetravel/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	return body, nil
}

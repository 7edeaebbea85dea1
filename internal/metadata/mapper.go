package metadata

import (
	"context"
	"fmt"
	"strings"
)

// Kraken 的历史资产代码与常用代码
var assetAliases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// ResolveSymbols 校验配置的交易对并映射为 Kraken WebSocket 名称
// 支持 BTC/USD 与 XBT/USD 等别名写法，以及 altname（如 XBTUSD）。
// 返回结果与输入顺序一致；任一交易对不存在或已下线都会返回错误。
func ResolveSymbols(ctx context.Context, f Fetcher, url string, symbols []string) ([]*SymbolMap, error) {
	pairs, err := f.FetchAssetPairs(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("获取 Kraken 元数据失败: %w", err)
	}

	index := buildIndex(pairs)

	result := make([]*SymbolMap, 0, len(symbols))
	var missing []string
	for _, sym := range symbols {
		pair, ok := index[normalizeSymbol(sym)]
		if !ok {
			missing = append(missing, sym)
			continue
		}
		if !pair.IsOnline() {
			return nil, fmt.Errorf("交易对 '%s' 当前状态为 %s", sym, pair.Status)
		}
		result = append(result, &SymbolMap{
			Input:        sym,
			Wsname:       pair.Wsname,
			Altname:      pair.Altname,
			PairDecimals: pair.PairDecimals,
			LotDecimals:  pair.LotDecimals,
		})
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("Kraken 不存在交易对: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Wsnames 提取订阅名称
func Wsnames(maps []*SymbolMap) []string {
	out := make([]string, len(maps))
	for i, m := range maps {
		out[i] = m.Wsname
	}
	return out
}

// buildIndex 构建交易对索引
// key: normalizeSymbol(wsname) 与 normalizeSymbol(altname)
func buildIndex(pairs map[string]AssetPair) map[string]AssetPair {
	index := make(map[string]AssetPair, len(pairs)*2)
	for _, p := range pairs {
		// 没有 wsname 的交易对（如暗池 .d）无法通过 WebSocket 订阅
		if p.Wsname == "" {
			continue
		}
		index[normalizeSymbol(p.Wsname)] = p
		if p.Altname != "" {
			if _, exists := index[normalizeSymbol(p.Altname)]; !exists {
				index[normalizeSymbol(p.Altname)] = p
			}
		}
	}
	return index
}

// normalizeSymbol 标准化交易对格式
// 转为大写，移除分隔符，资产别名统一为常用代码
// 例如: xbt/usd -> BTCUSD, BTC-USD -> BTCUSD
func normalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))

	if base, quote, ok := cutSeparator(s); ok {
		return canonAsset(base) + canonAsset(quote)
	}
	// 无分隔符时只替换前缀别名
	for alias, canon := range assetAliases {
		if strings.HasPrefix(s, alias) {
			return canon + s[len(alias):]
		}
	}
	return s
}

func cutSeparator(s string) (string, string, bool) {
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			return base, quote, true
		}
	}
	return "", "", false
}

func canonAsset(a string) string {
	if c, ok := assetAliases[a]; ok {
		return c
	}
	return a
}

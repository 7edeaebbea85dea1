package metadata

// AssetPairsResponse Kraken REST /0/public/AssetPairs 响应
type AssetPairsResponse struct {
	// Error 错误列表（成功时为空）
	Error []string `json:"error"`
	// Result 交易对名称 -> 交易对信息
	Result map[string]AssetPair `json:"result"`
}

// AssetPair Kraken 交易对信息（只保留用到的字段）
type AssetPair struct {
	// Altname 备用名称，如 XBTUSD
	Altname string `json:"altname"`
	// Wsname WebSocket 名称，如 XBT/USD
	Wsname string `json:"wsname"`
	// Base 基础资产，如 XXBT
	Base string `json:"base"`
	// Quote 计价资产，如 ZUSD
	Quote string `json:"quote"`
	// PairDecimals 价格精度
	PairDecimals int `json:"pair_decimals"`
	// LotDecimals 数量精度
	LotDecimals int `json:"lot_decimals"`
	// Status 交易状态：online / cancel_only / post_only / limit_only / reduce_only
	Status string `json:"status"`
}

// IsOnline 是否正常交易（旧接口不返回 status，视为正常）
func (p AssetPair) IsOnline() bool {
	return p.Status == "" || p.Status == "online"
}

// SymbolMap 配置交易对到 WebSocket 名称的映射
type SymbolMap struct {
	// Input 用户配置的原始输入
	Input string
	// Wsname 订阅使用的名称
	Wsname string
	// Altname 备用名称
	Altname string
	// PairDecimals 价格精度
	PairDecimals int
	// LotDecimals 数量精度
	LotDecimals int
}

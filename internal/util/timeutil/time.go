// Package timeutil 提供时间相关的工具函数。
// 用于记录帧到达时间与时间戳换算。
package timeutil

import (
	"time"
)

var (
	// baseTime 基准时间点（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 基准时间点对应的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 获取当前时间的纳秒时间戳
// NowNano = baseUnixNs + time.Since(baseTime)，系统时间跳变时仍保持单调，
// 到达时间与延迟统计不会倒退。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NanoToMs 将纳秒时间戳转换为毫秒
func NanoToMs(ns int64) int64 {
	return ns / 1_000_000
}

// NanoToTime 将纳秒时间戳转换为 UTC time.Time
func NanoToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// maxFrameLine 单行最大长度（深度快照帧通常在几十 KB 以内）
const maxFrameLine = 16 << 20

// Frame 录制的原始帧
type Frame struct {
	// ArrivedUnixNs 帧到达时间（纳秒）
	ArrivedUnixNs int64 `json:"arrived_unix_ns"`
	// Data 原始文本（可能不是合法 JSON）
	Data string `json:"data"`
}

// RecordFrame 录制一帧原始消息；缓冲满时丢弃
func (w *Writer) RecordFrame(arrivedAtUnixNs int64, data []byte) error {
	return w.TryWrite(Frame{ArrivedUnixNs: arrivedAtUnixNs, Data: string(data)})
}

// ReadFrames 顺序读取录制文件，对每一帧调用 fn
// fn 返回错误时停止读取并返回该错误；无法解析的行返回带行号的错误。
func ReadFrames(path string, fn func(Frame) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开录制文件失败: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameLine)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var fr Frame
		if err := json.Unmarshal(raw, &fr); err != nil {
			return fmt.Errorf("第 %d 行格式错误: %w", line, err)
		}
		if err := fn(fr); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("读取录制文件失败: %w", err)
	}
	return nil
}

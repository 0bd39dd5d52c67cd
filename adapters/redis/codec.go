package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// stream entry 中的欄位名稱
const (
	fieldPayload = "payload"
	fieldError   = "error"
)

var (
	ErrPointerType    = errors.New("pointer type is not allowed")
	ErrMissingPayload = errors.New("payload field not found or invalid type")
)

// EncodeValues 以 msgpack 序列化 data，並以 base64 字串放入 stream entry 的 payload 欄位
func EncodeValues[T any](data T) (map[string]any, error) {
	if t := reflect.TypeOf(data); t == nil || t.Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}

	raw, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}

	return map[string]any{
		fieldPayload: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// DecodeValues 是 EncodeValues 的反向操作
// 空的 entry 返回零值。
func DecodeValues[T any](values map[string]any) (T, error) {
	var result T

	if t := reflect.TypeOf((*T)(nil)).Elem(); t.Kind() == reflect.Ptr {
		return result, ErrPointerType
	}

	if len(values) == 0 {
		return result, nil
	}

	encoded, ok := values[fieldPayload].(string)
	if !ok {
		return result, ErrMissingPayload
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}

	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}

	return result, nil
}

// PublishedAt 從 stream entry ID（<毫秒時間戳>-<序號>）取得寫入時間，格式不符時返回零值
func PublishedAt(id string) time.Time {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(unix)
}

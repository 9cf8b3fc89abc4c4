package ingest

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIntegrityConflict 自然键唯一约束冲突（并发插入竞争）。
	// 事务已回滚，按更新路径重试是安全的。
	ErrIntegrityConflict = errors.New("natural key conflict")
)

// MissingFieldError 表示 item 缺少必填字段，该 item 被拒绝且不会重试。
type MissingFieldError struct {
	Kind   Kind
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s item missing required fields: %s", e.Kind, strings.Join(e.Fields, ", "))
}

// IsMissingField 判断是否为必填字段缺失错误。
func IsMissingField(err error) bool {
	var mf *MissingFieldError
	return errors.As(err, &mf)
}

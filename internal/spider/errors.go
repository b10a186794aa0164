package spider

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAPIBase   = errors.New("CatPawOpen 接口地址未设置")
	ErrInvalidSpiderAPI = errors.New("站点 API 无效")
	ErrNoPlayableURL    = errors.New("未返回播放地址")
	ErrInvalidResponse  = errors.New("invalid spider response")
)

// StatusError is returned for any non-2xx gateway response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

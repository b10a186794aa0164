package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrEmptyKeyword     = errors.New("关键词为空")
	ErrNotConfigured    = errors.New("未配置服务器或 CatPawOpen 接口地址")
	ErrNotAuthenticated = errors.New("未登录或登录已失效")
	ErrNoSites          = errors.New("没有可搜索的站点")
)

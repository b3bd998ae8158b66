package domain

import "errors"

var (
	// ErrInvalidFilter 筛选条件无法解析或不合法
	ErrInvalidFilter = errors.New("invalid subscription filter")
	// ErrInvalidPushCredential 推送凭证缺少 endpoint 或密钥
	ErrInvalidPushCredential = errors.New("invalid push credential")
	// ErrSubscriptionNotFound 订阅不存在
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrSubscriptionInactive 订阅已停用
	ErrSubscriptionInactive = errors.New("subscription inactive")
)

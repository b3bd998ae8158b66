// Package notificationagent 设备端通知代理：渲染推送、路由点击、上报交互。
package notificationagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
)

const (
	// MessageNotificationClick 发给前台页面的点击消息类型
	MessageNotificationClick = "NOTIFICATION_CLICK"
	// MessageGetLastNotification 前台页面查询最近通知
	MessageGetLastNotification = "GET_LAST_NOTIFICATION"

	defaultBadge = "/icons/badge-72x72.png"
)

// ErrUnknownMessage 不支持的页面消息
var ErrUnknownMessage = errors.New("unknown agent message")

// Notification 交给平台展示的通知
type Notification struct {
	Title              string               `json:"title"`
	Body               string               `json:"body"`
	Icon               string               `json:"icon"`
	Image              string               `json:"image,omitempty"`
	Badge              string               `json:"badge"`
	Tag                string               `json:"tag"`
	Color              string               `json:"color"`
	RequireInteraction bool                 `json:"requireInteraction"`
	Actions            []NotificationAction `json:"actions"`
	Data               domain.PushData      `json:"data"`
}

// ClientMessage 点击后发给已打开窗口的消息
type ClientMessage struct {
	Type      string          `json:"type"`
	Data      domain.PushData `json:"data"`
	Action    string          `json:"action"`
	TargetURL string          `json:"targetUrl"`
}

// Client 已打开的应用窗口
type Client interface {
	URL() string
	Focus(ctx context.Context) error
	PostMessage(ctx context.Context, msg ClientMessage) error
}

// Platform 宿主环境提供的通知与窗口能力
type Platform interface {
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, tag string) error
	MatchClients(ctx context.Context) ([]Client, error)
	OpenWindow(ctx context.Context, url string) error
}

// ClickEvent 通知被点击；Action 为空表示点击通知主体
type ClickEvent struct {
	Notification Notification
	Action       string
}

// CloseEvent 通知未点击即被关闭
type CloseEvent struct {
	Notification Notification
}

// AppMessage 前台页面发来的消息
type AppMessage struct {
	Type string `json:"type"`
}

// Config 代理配置
type Config struct {
	Namespace       string
	Origin          string
	CacheGeneration string
	FallbackTitle   string
	FallbackBody    string
	Presentations   PresentationTable
	ActionURLs      ActionURLTemplates
}

// Agent 通知代理
type Agent struct {
	platform Platform
	cache    *MetadataCache
	reporter Reporter
	logger   *slog.Logger
	clock    func() time.Time

	namespace     string
	origin        *url.URL
	fallbackTitle string
	fallbackBody  string
	presentations PresentationTable
	actionURLs    ActionURLTemplates

	mu     sync.Mutex
	lastTS map[string]int64
}

func NewAgent(cfg Config, platform Platform, cache *MetadataCache, reporter Reporter, logger *slog.Logger) (*Agent, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "propertyalert"
	}
	if cfg.FallbackTitle == "" {
		cfg.FallbackTitle = "New notification"
	}
	if cfg.FallbackBody == "" {
		cfg.FallbackBody = "You have a new update."
	}
	if cfg.Presentations == nil {
		cfg.Presentations = DefaultPresentationTable()
	}
	if cfg.ActionURLs == nil {
		cfg.ActionURLs = DefaultActionURLTemplates()
	}
	if err := cfg.Presentations.Validate(); err != nil {
		return nil, err
	}

	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid agent origin %q", cfg.Origin)
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		platform:      platform,
		cache:         cache,
		reporter:      reporter,
		logger:        logger,
		clock:         time.Now,
		namespace:     cfg.Namespace,
		origin:        origin,
		fallbackTitle: cfg.FallbackTitle,
		fallbackBody:  cfg.FallbackBody,
		presentations: cfg.Presentations,
		actionURLs:    cfg.ActionURLs,
		lastTS:        make(map[string]int64),
	}, nil
}

// Install 安装阶段清理旧代缓存
func (a *Agent) Install(ctx context.Context) error {
	return a.evict(ctx, "install")
}

// Activate 激活阶段清理旧代缓存
func (a *Agent) Activate(ctx context.Context) error {
	return a.evict(ctx, "activate")
}

func (a *Agent) evict(_ context.Context, phase string) error {
	if a.cache == nil {
		return nil
	}
	n, err := a.cache.EvictStale()
	if err != nil {
		return fmt.Errorf("evict stale cache on %s: %w", phase, err)
	}
	if n > 0 {
		a.logger.Info("evicted stale notification cache", "phase", phase, "entries", n, "generation", a.cache.Generation())
	}
	return nil
}

// HandlePush 解析推送并展示通知
func (a *Agent) HandlePush(ctx context.Context, raw []byte) (*Notification, error) {
	payload, ok := a.decode(raw)
	if !ok {
		a.logger.Warn("malformed push payload, showing fallback notification", "size", len(raw))
	}

	n := a.build(payload)
	if err := a.platform.ShowNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("show notification: %w", err)
	}

	if a.cache != nil {
		last := LastNotification{
			Tag:       n.Tag,
			Type:      n.Data.Type,
			Title:     n.Title,
			Body:      n.Body,
			URL:       n.Data.URL,
			ID:        n.Data.ID,
			Timestamp: n.Data.Timestamp,
			ShownAt:   a.clock(),
		}
		if err := a.cache.PutLast(last); err != nil {
			a.logger.Warn("failed to cache last notification", "tag", n.Tag, "error", err)
		}
	}
	return &n, nil
}

func (a *Agent) decode(raw []byte) (domain.PushPayload, bool) {
	var p domain.PushPayload
	if err := json.Unmarshal(raw, &p); err != nil || strings.TrimSpace(p.Title) == "" {
		return domain.PushPayload{
			Title: a.fallbackTitle,
			Body:  a.fallbackBody,
			Data:  domain.PushData{Type: DefaultType, URL: "/"},
		}, false
	}
	return p, true
}

func (a *Agent) build(p domain.PushPayload) Notification {
	data := p.Data
	if data.Type == "" {
		data.Type = DefaultType
	}
	if data.URL == "" {
		data.URL = "/"
	}
	if data.Timestamp == 0 {
		data.Timestamp = a.clock().UnixMilli()
	}

	pres := a.presentations.Lookup(data.Type)
	icon := p.Icon
	if icon == "" {
		icon = pres.Icon
	}
	actions := make([]NotificationAction, len(pres.Actions))
	copy(actions, pres.Actions)

	return Notification{
		Title:              p.Title,
		Body:               p.Body,
		Icon:               icon,
		Image:              p.Image,
		Badge:              defaultBadge,
		Tag:                a.tag(data.Type, data.Timestamp),
		Color:              pres.Color,
		RequireInteraction: pres.RequireInteraction,
		Actions:            actions,
		Data:               data,
	}
}

// tag 同类型同毫秒的通知也要得到不同的 tag
func (a *Agent) tag(notificationType string, ts int64) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.lastTS[notificationType]; ok && ts <= last {
		ts = last + 1
	}
	a.lastTS[notificationType] = ts
	return a.namespace + "-" + notificationType + "-" + strconv.FormatInt(ts, 10)
}

// HandleClick 关闭通知并把用户带到目标页面
func (a *Agent) HandleClick(ctx context.Context, ev ClickEvent) error {
	n := ev.Notification
	if err := a.platform.CloseNotification(ctx, n.Tag); err != nil {
		a.logger.Warn("failed to close notification", "tag", n.Tag, "error", err)
	}

	action := ev.Action
	reported := action
	if reported == "" {
		reported = "open"
	}
	a.report(ctx, n, reported)

	if action == ActionDismiss {
		return nil
	}

	target := a.actionURLs.Resolve(action, n.Data, a.origin)
	clients, err := a.platform.MatchClients(ctx)
	if err != nil {
		a.logger.Warn("failed to match clients", "error", err)
	}
	for _, c := range clients {
		if !a.sameOrigin(c.URL()) {
			continue
		}
		if err := c.Focus(ctx); err != nil {
			a.logger.Warn("failed to focus client", "url", c.URL(), "error", err)
			continue
		}
		return c.PostMessage(ctx, ClientMessage{
			Type:      MessageNotificationClick,
			Data:      n.Data,
			Action:    action,
			TargetURL: target,
		})
	}
	return a.platform.OpenWindow(ctx, target)
}

// HandleClose 未点击直接关闭
func (a *Agent) HandleClose(ctx context.Context, ev CloseEvent) {
	a.report(ctx, ev.Notification, ActionDismiss)
}

// HandleMessage 响应前台页面的查询
func (a *Agent) HandleMessage(_ context.Context, msg AppMessage) (any, error) {
	switch msg.Type {
	case MessageGetLastNotification:
		if a.cache == nil {
			return nil, nil
		}
		last, err := a.cache.Last()
		if err != nil || last == nil {
			return nil, err
		}
		return last, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Type)
	}
}

// Close 等待在途的埋点上报
func (a *Agent) Close() {
	a.reporter.Close()
}

func (a *Agent) report(ctx context.Context, n Notification, action string) {
	id := n.Data.ID
	if id == "" {
		id = n.Tag
	}
	a.reporter.Report(ctx, Interaction{
		NotificationID: id,
		Type:           n.Data.Type,
		Action:         action,
		Timestamp:      a.clock().UnixMilli(),
	})
}

func (a *Agent) sameOrigin(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, a.origin.Scheme) && strings.EqualFold(u.Host, a.origin.Host)
}

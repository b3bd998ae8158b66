package notificationagent

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
)

// DefaultType 未知类型使用的展示配置
const DefaultType = "default"

// ActionDismiss 关闭通知，不做跳转
const ActionDismiss = "dismiss"

// NotificationAction 通知上的按钮
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Presentation 某一通知类型的图标、强调色与按钮
type Presentation struct {
	Icon               string
	Color              string
	RequireInteraction bool
	Actions            []NotificationAction
}

// PresentationTable 按 data.type 查表；新增类型只需加一行配置
type PresentationTable map[string]Presentation

// DefaultPresentationTable 内置展示配置
func DefaultPresentationTable() PresentationTable {
	return PresentationTable{
		"price_drop": {
			Icon:               "/icons/price-drop.png",
			Color:              "#16a34a",
			RequireInteraction: true,
			Actions: []NotificationAction{
				{Action: "view", Title: "View Property", Icon: "/icons/view.png"},
				{Action: "save", Title: "Save for Later", Icon: "/icons/heart.png"},
			},
		},
		"new_match": {
			Icon:  "/icons/new-match.png",
			Color: "#2563eb",
			Actions: []NotificationAction{
				{Action: "view", Title: "View Matches", Icon: "/icons/view.png"},
				{Action: ActionDismiss, Title: "Dismiss", Icon: "/icons/close.png"},
			},
		},
		"message": {
			Icon:  "/icons/message.png",
			Color: "#7c3aed",
			Actions: []NotificationAction{
				{Action: "reply", Title: "Reply", Icon: "/icons/reply.png"},
				{Action: "read", Title: "Read", Icon: "/icons/view.png"},
			},
		},
		"viewing": {
			Icon:               "/icons/calendar.png",
			Color:              "#ea580c",
			RequireInteraction: true,
			Actions: []NotificationAction{
				{Action: "reschedule", Title: "Reschedule", Icon: "/icons/calendar.png"},
				{Action: "view", Title: "View Details", Icon: "/icons/view.png"},
			},
		},
		"market": {
			Icon:  "/icons/market.png",
			Color: "#0891b2",
			Actions: []NotificationAction{
				{Action: "view", Title: "View Report", Icon: "/icons/view.png"},
				{Action: ActionDismiss, Title: "Dismiss", Icon: "/icons/close.png"},
			},
		},
		DefaultType: {
			Icon:  "/icons/icon-192x192.png",
			Color: "#2563eb",
			Actions: []NotificationAction{
				{Action: "view", Title: "View", Icon: "/icons/view.png"},
				{Action: ActionDismiss, Title: "Dismiss", Icon: "/icons/close.png"},
			},
		},
	}
}

// Lookup 找不到时回退到 default
func (t PresentationTable) Lookup(notificationType string) Presentation {
	if p, ok := t[notificationType]; ok {
		return p
	}
	return t[DefaultType]
}

// Validate 必须有 default，且每种类型恰好两个按钮
func (t PresentationTable) Validate() error {
	if _, ok := t[DefaultType]; !ok {
		return fmt.Errorf("presentation table has no %q entry", DefaultType)
	}
	for typ, p := range t {
		if len(p.Actions) != 2 {
			return fmt.Errorf("presentation %q must define exactly 2 actions, got %d", typ, len(p.Actions))
		}
	}
	return nil
}

// ActionURLTemplates 按钮到跳转地址的模板，占位符取自推送 data
type ActionURLTemplates map[string]string

// DefaultActionURLTemplates 内置跳转模板；未列出的按钮使用 data.url
func DefaultActionURLTemplates() ActionURLTemplates {
	return ActionURLTemplates{
		"view":       "{url}",
		"reschedule": "/bookings/{bookingId}/reschedule",
		"reply":      "/messages/{messageId}",
		"read":       "/messages/{messageId}",
		"save":       "/properties/{propertyId}?action=save",
	}
}

// Resolve 计算点击后的目标地址（相对 origin 解析为绝对地址）
func (t ActionURLTemplates) Resolve(action string, data domain.PushData, origin *url.URL) string {
	tmpl, ok := t[action]
	if !ok {
		tmpl = "{url}"
	}

	values := map[string]string{
		"{url}":        data.URL,
		"{bookingId}":  data.BookingID,
		"{messageId}":  data.MessageID,
		"{propertyId}": data.PropertyID,
	}
	target := tmpl
	for placeholder, v := range values {
		if !strings.Contains(target, placeholder) {
			continue
		}
		if v == "" {
			// 缺少参数时退回推送自带的地址
			target = data.URL
			break
		}
		if placeholder != "{url}" {
			v = url.PathEscape(v)
		}
		target = strings.ReplaceAll(target, placeholder, v)
	}
	if target == "" {
		target = "/"
	}

	if origin == nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return origin.String()
	}
	return origin.ResolveReference(ref).String()
}

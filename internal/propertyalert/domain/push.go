package domain

// DeliveryResult 推送结果
type DeliveryResult string

const (
	ResultDelivered DeliveryResult = "delivered"
	// ResultExpired endpoint 已失效（404/410），调用方必须清除凭证
	ResultExpired DeliveryResult = "expired"
	ResultFailed  DeliveryResult = "failed"
)

// Status 转为台账投递状态
func (r DeliveryResult) Status() DeliveryStatus {
	switch r {
	case ResultDelivered:
		return DeliveryDelivered
	case ResultExpired:
		return DeliveryExpired
	default:
		return DeliveryFailed
	}
}

// PushPayload 推送给客户端的 JSON 报文
type PushPayload struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Icon  string   `json:"icon,omitempty"`
	Image string   `json:"image,omitempty"`
	Data  PushData `json:"data"`
}

// PushData 报文中的路由数据
type PushData struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	ID         string `json:"id,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	PropertyID string `json:"propertyId,omitempty"`
	BookingID  string `json:"bookingId,omitempty"`
	MessageID  string `json:"messageId,omitempty"`
}

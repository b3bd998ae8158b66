package application

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/wyfcoding/propertyalert/internal/propertyalert/domain"
)

// emailTopListings 邮件中最多展示的房源数
const emailTopListings = 3

type alertTexts struct {
	NewMatchSubject  string
	NewMatchHeading  string
	PriceDropSubject string
	PriceDropHeading string
	More             string
	ViewAll          string
	Unsubscribe      string
	PushNewMatchOne  string
	PushNewMatchMany string
	PushPriceDrop    string
}

var alertLocales = map[string]alertTexts{
	"id": {
		NewMatchSubject:  "%d properti baru sesuai pencarian Anda",
		NewMatchHeading:  "Properti baru yang cocok dengan pencarian tersimpan Anda",
		PriceDropSubject: "Harga turun %s: %s",
		PriceDropHeading: "Harga properti yang Anda pantau turun",
		More:             "dan %d properti lainnya",
		ViewAll:          "Lihat semua hasil",
		Unsubscribe:      "Kelola notifikasi",
		PushNewMatchOne:  "Properti baru: %s",
		PushNewMatchMany: "%d properti baru sesuai pencarian Anda",
		PushPriceDrop:    "Harga turun %s",
	},
	"en": {
		NewMatchSubject:  "%d new properties match your saved search",
		NewMatchHeading:  "New properties matching your saved search",
		PriceDropSubject: "Price drop %s: %s",
		PriceDropHeading: "A property you are watching just dropped in price",
		More:             "and %d more",
		ViewAll:          "View all results",
		Unsubscribe:      "Manage notifications",
		PushNewMatchOne:  "New listing: %s",
		PushNewMatchMany: "%d new properties match your search",
		PushPriceDrop:    "Price dropped %s",
	},
}

const alertEmailHTML = `<!DOCTYPE html>
<html>
<body style="font-family:Arial,sans-serif;color:#1f2937;">
  <h2>{{.Heading}}</h2>
  <table cellpadding="8" style="border-collapse:collapse;width:100%;">
  {{- range .Listings}}
    <tr style="border-bottom:1px solid #e5e7eb;">
      <td>
        <a href="{{.URL}}" style="font-weight:bold;color:#2563eb;">{{.Title}}</a><br>
        <span>{{.City}}</span>
      </td>
      <td style="text-align:right;">
        <strong>{{.Price}}</strong>{{if .Note}}<br><span style="color:#dc2626;">{{.Note}}</span>{{end}}
      </td>
    </tr>
  {{- end}}
  </table>
  {{- if .More}}
  <p>{{.More}}</p>
  {{- end}}
  <p><a href="{{.ResultsURL}}">{{.ViewAll}}</a></p>
  <p style="font-size:12px;color:#6b7280;"><a href="{{.ManageURL}}">{{.Unsubscribe}}</a></p>
</body>
</html>`

type emailListing struct {
	Title string
	City  string
	Price string
	URL   string
	Note  string
}

type emailView struct {
	Heading     string
	Listings    []emailListing
	More        string
	ResultsURL  string
	ViewAll     string
	ManageURL   string
	Unsubscribe string
}

// RenderedEmail 渲染后的邮件
type RenderedEmail struct {
	Subject string
	HTML    string
}

// EmailRenderer 渲染提醒邮件
type EmailRenderer struct {
	tmpl    *template.Template
	baseURL string
	locale  string
	texts   alertTexts
}

func NewEmailRenderer(baseURL, locale string) *EmailRenderer {
	loc := normalizeLocale(locale)
	texts, ok := alertLocales[loc]
	if !ok {
		texts = alertLocales["en"]
	}
	return &EmailRenderer{
		tmpl:    template.Must(template.New("alert").Parse(alertEmailHTML)),
		baseURL: strings.TrimRight(baseURL, "/"),
		locale:  loc,
		texts:   texts,
	}
}

// PropertyURL 房源详情链接
func (r *EmailRenderer) PropertyURL(listingID string) string {
	return fmt.Sprintf("%s/properties/%s", r.baseURL, listingID)
}

// ResultsURL 订阅的完整结果链接
func (r *EmailRenderer) ResultsURL(subscriptionID uint64) string {
	return fmt.Sprintf("%s/search?alert=%d", r.baseURL, subscriptionID)
}

// NewMatches 渲染新房源摘要，最多展示 3 条，其余以数量说明
func (r *EmailRenderer) NewMatches(sub *domain.Subscription, listings []*domain.Listing) (*RenderedEmail, error) {
	view := r.baseView(sub)
	view.Heading = r.texts.NewMatchHeading
	for i, l := range listings {
		if i >= emailTopListings {
			break
		}
		view.Listings = append(view.Listings, r.listingView(l, ""))
	}
	if extra := len(listings) - emailTopListings; extra > 0 {
		view.More = fmt.Sprintf(r.texts.More, extra)
	}

	html, err := r.execute(view)
	if err != nil {
		return nil, err
	}
	return &RenderedEmail{
		Subject: fmt.Sprintf(r.texts.NewMatchSubject, len(listings)),
		HTML:    html,
	}, nil
}

// PriceDrop 渲染单条降价提醒
func (r *EmailRenderer) PriceDrop(sub *domain.Subscription, drop PriceDrop) (*RenderedEmail, error) {
	view := r.baseView(sub)
	view.Heading = r.texts.PriceDropHeading
	note := fmt.Sprintf("%s → %s (-%s)",
		FormatPriceShort(drop.OldPrice, r.locale),
		FormatPriceShort(drop.NewPrice, r.locale),
		FormatPercent(drop.DropPercent, r.locale))
	view.Listings = []emailListing{r.listingView(drop.Listing, note)}

	html, err := r.execute(view)
	if err != nil {
		return nil, err
	}
	return &RenderedEmail{
		Subject: fmt.Sprintf(r.texts.PriceDropSubject, FormatPercent(drop.DropPercent, r.locale), drop.Listing.Title),
		HTML:    html,
	}, nil
}

func (r *EmailRenderer) baseView(sub *domain.Subscription) emailView {
	return emailView{
		ResultsURL:  r.ResultsURL(sub.ID),
		ViewAll:     r.texts.ViewAll,
		ManageURL:   fmt.Sprintf("%s/account/alerts/%d", r.baseURL, sub.ID),
		Unsubscribe: r.texts.Unsubscribe,
	}
}

func (r *EmailRenderer) listingView(l *domain.Listing, note string) emailListing {
	return emailListing{
		Title: l.Title,
		City:  l.City,
		Price: FormatPriceShort(l.Price, r.locale),
		URL:   r.PropertyURL(l.ID),
		Note:  note,
	}
}

func (r *EmailRenderer) execute(view emailView) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render alert email: %w", err)
	}
	return buf.String(), nil
}

package model

import (
	"math"
	"strings"
	"time"
)

// Field names the pipeline depends on. Everything else in a payload is opaque.
const (
	FieldListingID        = "listingId"
	FieldRateMin          = "rateMin"
	FieldRateMax          = "rateMax"
	FieldRateRangeDisplay = "rateRangeDisplay"

	// DetailPrefix marks a detail field whose key collided with a different summary value.
	DetailPrefix = "detail_"

	StatusActive = "active"
)

// RawRecord is an untyped payload returned by the upstream listings API.
type RawRecord = map[string]any

// FlattenedListing is a merged summary+detail record. It always carries a non-empty
// string listingId and a rateRangeDisplay entry (string or nil).
type FlattenedListing = map[string]any

// ListingRecord is the relational projection of a flattened listing.
type ListingRecord struct {
	ListingID         string
	Title             string
	CompanyName       *string
	Location          *string
	ReferralAmount    *float64
	Commitment        *string
	RateMin           *float64
	RateMax           *float64
	PayRateFrequency  *string
	ReferralLink      *string
	Status            string
	IsPrivate         bool
	RateRangeDisplay  *string
	DetailDescription *string
	RawPayload        map[string]any
	CreatedAt         time.Time
}

// Visible reports whether the listing may be shown publicly.
func (r ListingRecord) Visible() bool {
	return r.Status == StatusActive && !r.IsPrivate
}

// ProjectListing extracts the typed columns of l. syncedAt is used when the payload
// carries no parseable creation time.
func ProjectListing(l FlattenedListing, syncedAt time.Time) ListingRecord {
	id, _ := l[FieldListingID].(string)
	rec := ListingRecord{
		ListingID:         id,
		CompanyName:       stringField(l, "companyName", "company"),
		Location:          stringField(l, "location"),
		ReferralAmount:    numberField(l, "referralAmount"),
		Commitment:        stringField(l, "commitment"),
		RateMin:           numberField(l, FieldRateMin, DetailPrefix+FieldRateMin),
		RateMax:           numberField(l, FieldRateMax, DetailPrefix+FieldRateMax),
		PayRateFrequency:  stringField(l, "payRateFrequency"),
		ReferralLink:      stringField(l, "referralLink"),
		Status:            StatusActive,
		IsPrivate:         truthy(l["isPrivate"]),
		RateRangeDisplay:  stringField(l, FieldRateRangeDisplay),
		DetailDescription: stringField(l, DetailPrefix+"description", "description"),
		RawPayload:        l,
		CreatedAt:         syncedAt.UTC(),
	}
	if title := stringField(l, "title"); title != nil {
		rec.Title = *title
	}
	if status := stringField(l, "status"); status != nil {
		rec.Status = strings.ToLower(*status)
	}
	if created := stringField(l, "createdAt", "created_at"); created != nil {
		if ts, err := time.Parse(time.RFC3339, *created); err == nil {
			rec.CreatedAt = ts.UTC()
		}
	}
	return rec
}

// PayRate groups the pay range columns of a listing.
type PayRate struct {
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	Frequency *string  `json:"frequency"`
}

// ListingSummary is the card-level view of a listing.
type ListingSummary struct {
	ListingID             string         `json:"listingId"`
	Title                 string         `json:"title"`
	Company               *string        `json:"company"`
	Location              *string        `json:"location"`
	ReferralAmount        *float64       `json:"referralAmount"`
	Commitment            *string        `json:"commitment"`
	PayRate               PayRate        `json:"payRate"`
	RateRangeDisplay      *string        `json:"rateRangeDisplay"`
	ReferralLinkAvailable bool           `json:"referralLinkAvailable"`
	ReferralLink          *string        `json:"referralLink"`
	CreatedAt             time.Time      `json:"createdAt"`
	RawPayload            map[string]any `json:"rawPayload,omitempty"`
}

// ListingMetadata holds detail fields derived from the raw payload.
type ListingMetadata struct {
	Status                *string  `json:"status"`
	HoursPerWeek          *float64 `json:"hoursPerWeek"`
	Team                  *string  `json:"team"`
	RecentCandidatesCount *float64 `json:"recentCandidatesCount"`
}

// ReferralBoost is present only when the listing advertises an active boost.
type ReferralBoost struct {
	Active    bool    `json:"active"`
	ExpiresAt *string `json:"expiresAt"`
}

// ListingDetail is the overlay view of a listing.
type ListingDetail struct {
	ListingSummary
	Description   *string         `json:"description"`
	Metadata      ListingMetadata `json:"metadata"`
	ReferralBoost *ReferralBoost  `json:"referralBoost"`
}

// NewListingSummary builds the card view of rec.
func NewListingSummary(rec ListingRecord) ListingSummary {
	return ListingSummary{
		ListingID:      rec.ListingID,
		Title:          rec.Title,
		Company:        rec.CompanyName,
		Location:       rec.Location,
		ReferralAmount: rec.ReferralAmount,
		Commitment:     rec.Commitment,
		PayRate: PayRate{
			Min:       rec.RateMin,
			Max:       rec.RateMax,
			Frequency: rec.PayRateFrequency,
		},
		RateRangeDisplay:      rec.RateRangeDisplay,
		ReferralLinkAvailable: rec.ReferralLink != nil && *rec.ReferralLink != "",
		ReferralLink:          rec.ReferralLink,
		CreatedAt:             rec.CreatedAt,
		RawPayload:            rec.RawPayload,
	}
}

// NewListingDetail builds the overlay view of rec, preferring detail_ fields of the payload.
func NewListingDetail(rec ListingRecord) ListingDetail {
	payload := rec.RawPayload
	if payload == nil {
		payload = map[string]any{}
	}
	status := rec.Status
	detail := ListingDetail{
		ListingSummary: NewListingSummary(rec),
		Description:    rec.DetailDescription,
		Metadata: ListingMetadata{
			Status:                &status,
			HoursPerWeek:          numberField(payload, DetailPrefix+"hoursPerWeek", "hoursPerWeek"),
			Team:                  stringField(payload, DetailPrefix+"team", "team"),
			RecentCandidatesCount: numberField(payload, "recentCandidatesCount", "recentWeekCandidateCount"),
		},
	}
	if detail.Description == nil {
		detail.Description = stringField(payload, DetailPrefix+"description", "description")
	}
	if boost, ok := firstPresent(payload, DetailPrefix+"referralBoost", "referralBoost"); ok && truthy(boost) {
		detail.ReferralBoost = &ReferralBoost{
			Active:    true,
			ExpiresAt: stringField(payload, DetailPrefix+"referralBoostExpiryAt", "referralBoostExpiryAt"),
		}
	}
	return detail
}

// ListingSort selects the ordering of a listings page.
type ListingSort string

const (
	SortRecent  ListingSort = "recent"
	SortPayDesc ListingSort = "pay_desc"
	SortPayAsc  ListingSort = "pay_asc"
)

const (
	DefaultPageSize = 12
	MaxPageSize     = 50
)

// PageQuery requests one page of public listings.
type PageQuery struct {
	Page     int
	PageSize int
	Sort     ListingSort
}

// Normalize clamps the query to valid bounds.
func (q PageQuery) Normalize() PageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	switch q.Sort {
	case SortRecent, SortPayDesc, SortPayAsc:
	default:
		q.Sort = SortRecent
	}
	return q
}

// Offset is the zero-based index of the first row on the page.
func (q PageQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Pagination describes where a ListingPage sits in the full result set.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
}

// ListingPage is a page of listing summaries plus pagination totals.
type ListingPage struct {
	Data       []ListingSummary `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// NewListingPage assembles a page; there is always at least one page.
func NewListingPage(q PageQuery, data []ListingSummary, total int) ListingPage {
	pages := int(math.Ceil(float64(total) / float64(q.PageSize)))
	if pages < 1 {
		pages = 1
	}
	if data == nil {
		data = []ListingSummary{}
	}
	return ListingPage{
		Data:       data,
		Pagination: Pagination{Page: q.Page, PageSize: q.PageSize, TotalPages: pages, TotalItems: total},
	}
}

func firstPresent(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(m map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

func numberField(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if f, ok := ToNumber(m[k]); ok {
			return &f
		}
	}
	return nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false")
	case []any:
		return true
	case map[string]any:
		return true
	default:
		f, ok := ToNumber(t)
		return ok && f != 0
	}
}

package record

import "time"

// Document is anything a sink can persist: it has a stable key and encodes to JSON.
type Document interface {
	Key() string
	Kind() string
}

const (
	KindHarvest = "harvest"
	KindRelease = "release"
)

// Record aggregates the fragments fetched for one release id. A nil fragment
// means that sub-fetch failed; the record is still emitted while any fragment
// is present.
type Record struct {
	ReleaseID string          `json:"release_id"`
	Detail    *DetailFragment `json:"detail,omitempty"`
	Stats     *StatsFragment  `json:"stats,omitempty"`
	Sellers   *SellerFragment `json:"sellers,omitempty"`
	ScrapedAt time.Time       `json:"scraped_at"`
}

func (r *Record) Key() string  { return r.ReleaseID }
func (r *Record) Kind() string { return KindHarvest }

// Empty reports whether no fragment was fetched
func (r *Record) Empty() bool {
	return r.Detail == nil && r.Stats == nil && r.Sellers == nil
}

// Partial reports whether at least one fragment, but not all, was fetched
func (r *Record) Partial() bool {
	return !r.Empty() && (r.Detail == nil || r.Stats == nil || r.Sellers == nil)
}

// DetailFragment holds the community figures shown on the release page.
// Nil pointers are values the page did not carry.
type DetailFragment struct {
	Have      *int       `json:"have,omitempty"`
	Want      *int       `json:"want,omitempty"`
	AvgRating *float64   `json:"avg_rating,omitempty"`
	Ratings   *int       `json:"ratings,omitempty"`
	LastSold  *time.Time `json:"last_sold,omitempty"`
	Low       *float64   `json:"low,omitempty"`
	Median    *float64   `json:"median,omitempty"`
	High      *float64   `json:"high,omitempty"`
}

// StatsFragment lists the usernames that have or want the release
type StatsFragment struct {
	Have []string `json:"have"`
	Want []string `json:"want"`
}

type SellerFragment struct {
	Listings []Listing `json:"listings"`
}

type Listing struct {
	ImageURL                  string   `json:"image_url,omitempty"`
	CommunityHave             *int     `json:"have,omitempty"`
	CommunityWant             *int     `json:"want,omitempty"`
	Title                     string   `json:"title,omitempty"`
	Label                     string   `json:"label,omitempty"`
	CatalogNumber             string   `json:"catno,omitempty"`
	MediaCondition            string   `json:"media_condition,omitempty"`
	MediaConditionDescription string   `json:"media_condition_description,omitempty"`
	Seller                    string   `json:"seller,omitempty"`
	SellerRating              *float64 `json:"seller_rating,omitempty"`
	ShipsFrom                 string   `json:"ships_from,omitempty"`
	Currency                  string   `json:"currency,omitempty"`
	Price                     *float64 `json:"price,omitempty"`
}

// Documents converts harvested records for a sink batch
func Documents(records []*Record) []Document {
	docs := make([]Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, r)
	}
	return docs
}

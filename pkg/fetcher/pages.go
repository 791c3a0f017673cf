package fetcher

import (
	"context"
	"strings"

	"harvester/pkg/record"

	"github.com/PuerkitoBio/goquery"
)

// Detail fetches the release page and extracts its community figures
func (c *Client) Detail(ctx context.Context, g Getter, releaseID string) (*record.DetailFragment, error) {
	u := c.DetailURL(releaseID)
	doc, err := c.document(ctx, g, u)
	if err != nil {
		return nil, err
	}
	frag, ok := ParseDetail(doc)
	if !ok {
		return nil, &ParseError{URL: u, Reason: "release stats section not found"}
	}
	return frag, nil
}

// Stats fetches the stats page and extracts who has and wants the release
func (c *Client) Stats(ctx context.Context, g Getter, releaseID string) (*record.StatsFragment, error) {
	u := c.StatsURL(releaseID)
	doc, err := c.document(ctx, g, u)
	if err != nil {
		return nil, err
	}
	frag, ok := ParseStats(doc)
	if !ok {
		return nil, &ParseError{URL: u, Reason: "stats groups not found"}
	}
	return frag, nil
}

// Sellers fetches the marketplace page and extracts its listings
func (c *Client) Sellers(ctx context.Context, g Getter, releaseID string) (*record.SellerFragment, error) {
	u := c.SellersURL(releaseID)
	doc, err := c.document(ctx, g, u)
	if err != nil {
		return nil, err
	}
	frag, ok := ParseSellers(doc)
	if !ok {
		return nil, &ParseError{URL: u, Reason: "listing table not found"}
	}
	return frag, nil
}

func ParseDetail(doc *goquery.Document) (*record.DetailFragment, bool) {
	section := doc.Find("section#release-stats")
	if section.Length() == 0 {
		return nil, false
	}

	frag := &record.DetailFragment{}
	section.Find("li").Each(func(_ int, li *goquery.Selection) {
		span := li.Find("span").First()
		if span.Length() == 0 {
			return
		}
		label := strings.TrimSuffix(strings.TrimSpace(span.Text()), ":")
		value := strings.TrimSpace(strings.Replace(li.Text(), span.Text(), "", 1))

		switch label {
		case "Have":
			frag.Have = parseCount(value)
		case "Want":
			frag.Want = parseCount(value)
		case "Avg Rating":
			frag.AvgRating = parseRating(value)
		case "Ratings":
			frag.Ratings = parseCount(value)
		case "Last Sold":
			frag.LastSold = parseLastSold(value)
		case "Low":
			_, frag.Low = parsePrice(value)
		case "Median":
			_, frag.Median = parsePrice(value)
		case "High":
			_, frag.High = parsePrice(value)
		}
	})
	return frag, true
}

// ParseStats reads the have list from the second stats group and the want
// list from the third. Missing groups yield empty lists.
func ParseStats(doc *goquery.Document) (*record.StatsFragment, bool) {
	groups := doc.Find("div.release_stats_group")
	if groups.Length() == 0 {
		return nil, false
	}
	return &record.StatsFragment{
		Have: usernames(groups.Eq(1)),
		Want: usernames(groups.Eq(2)),
	}, true
}

func usernames(group *goquery.Selection) []string {
	names := []string{}
	group.Find("ul[role=list] li a").Each(func(_ int, a *goquery.Selection) {
		if name := strings.TrimSpace(a.Text()); name != "" {
			names = append(names, name)
		}
	})
	return names
}

// ParseSellers reads every listing row. A page that says nothing is for
// sale yields an empty fragment.
func ParseSellers(doc *goquery.Document) (*record.SellerFragment, bool) {
	table := doc.Find("table.mpitems")
	if table.Length() == 0 {
		if strings.Contains(doc.Find("body").Text(), "No items for sale") {
			return &record.SellerFragment{Listings: []record.Listing{}}, true
		}
		return nil, false
	}

	frag := &record.SellerFragment{Listings: []record.Listing{}}
	table.Find("tbody tr.shortcut_navigable").Each(func(_ int, row *goquery.Selection) {
		frag.Listings = append(frag.Listings, parseListing(row))
	})
	return frag, true
}

func parseListing(row *goquery.Selection) record.Listing {
	var l record.Listing

	picture := row.Find("td.item_picture")
	img := picture.Find("img").First()
	l.ImageURL = img.AttrOr("data-src", img.AttrOr("src", ""))
	community := picture.Find(".community_data_text")
	l.CommunityHave = parseCount(community.Eq(0).Text())
	l.CommunityWant = parseCount(community.Eq(1).Text())

	desc := row.Find("td.item_description")
	l.Title = cleanText(desc.Find("a.item_description_title").Text())
	l.Label = cleanText(desc.Find("p.label_and_cat a").First().Text())
	l.CatalogNumber = cleanText(desc.Find("span.item_catno").Text())

	labels := desc.Find("p.item_condition span.mplabel")
	media := labels.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.HasPrefix(strings.TrimSpace(s.Text()), "Media")
	})
	if media.Length() == 0 {
		media = labels.Last()
	}
	condition := media.First().Next()
	tooltip := condition.Find(".has-tooltip")
	l.MediaConditionDescription = strings.TrimSpace(tooltip.AttrOr("title", ""))
	l.MediaCondition = cleanText(strings.Replace(condition.Text(), tooltip.Text(), "", 1))

	seller := row.Find("td.seller_info")
	l.Seller = cleanText(seller.Find("div.seller_block strong a").First().Text())
	if alt, ok := seller.Find(".star_rating").First().Attr("alt"); ok {
		l.SellerRating = firstNumber(alt)
	}
	seller.Find("li").Each(func(_ int, li *goquery.Selection) {
		text := cleanText(li.Text())
		if after, found := strings.CutPrefix(text, "Ships From:"); found {
			l.ShipsFrom = strings.TrimSpace(after)
		}
	})

	l.Currency, l.Price = parsePrice(row.Find("td.item_price span.price").First().Text())
	return l
}

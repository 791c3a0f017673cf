package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"harvester/pkg/record"

	"github.com/antchfx/xmlquery"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// Writer persists one batch of documents. Sinks implement it.
type Writer interface {
	Insert(ctx context.Context, docs []record.Document) error
}

type Ingester struct {
	writer    Writer
	batchSize int
	log       zerolog.Logger
}

func NewIngester(w Writer, batchSize int, log zerolog.Logger) *Ingester {
	if batchSize <= 0 {
		batchSize = 10000
	}
	return &Ingester{writer: w, batchSize: batchSize, log: log}
}

// IngestFile streams the releases of a dump file into the writer. Files with
// a .gz suffix are decompressed on the fly.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return 0, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return in.Ingest(ctx, r)
}

// Ingest parses <release> elements one at a time and writes them in batches,
// followed by a final partial batch. A failed write is logged and parsing
// continues. It returns the number of releases parsed.
func (in *Ingester) Ingest(ctx context.Context, r io.Reader) (int, error) {
	parser, err := xmlquery.CreateStreamParser(r, "/releases/release")
	if err != nil {
		return 0, fmt.Errorf("failed to create xml stream parser: %w", err)
	}

	var (
		batch    = make([]record.Document, 0, in.batchSize)
		parsed   int
		failures int
	)
	flush := func(final bool) {
		if len(batch) == 0 {
			return
		}
		log := in.log.With().Int("releases", len(batch)).Str("total_parsed", humanize.Comma(int64(parsed))).Bool("final", final).Logger()
		if err := in.writer.Insert(context.WithoutCancel(ctx), batch); err != nil {
			failures++
			log.Error().Err(err).Msg("Failed to insert release batch, continuing")
		} else {
			log.Info().Msg("Inserted release batch")
		}
		batch = make([]record.Document, 0, in.batchSize)
	}

	for {
		if ctx.Err() != nil {
			flush(true)
			return parsed, ctx.Err()
		}
		node, err := parser.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			flush(true)
			return parsed, fmt.Errorf("failed to parse release %d: %w", parsed+1, err)
		}

		batch = append(batch, ParseRelease(node))
		parsed++
		if len(batch) >= in.batchSize {
			flush(false)
		}
	}
	flush(true)

	in.log.Info().Int("releases", parsed).Int("failed_batches", failures).Msg("Dump ingestion finished")
	return parsed, nil
}

// ParseRelease maps one <release> element
func ParseRelease(n *xmlquery.Node) *record.Release {
	rel := &record.Release{
		ID:          n.SelectAttr("id"),
		Status:      n.SelectAttr("status"),
		Title:       childText(n, "title"),
		Country:     childText(n, "country"),
		Released:    childText(n, "released"),
		Notes:       childText(n, "notes"),
		DataQuality: childText(n, "data_quality"),
		MasterID:    childText(n, "master_id"),
		Genres:      texts(n, "genres/genre"),
		Styles:      texts(n, "styles/style"),
	}

	for _, a := range xmlquery.Find(n, "artists/artist") {
		rel.Artists = append(rel.Artists, parseCredit(a))
	}
	for _, a := range xmlquery.Find(n, "extraartists/artist") {
		rel.ExtraArtists = append(rel.ExtraArtists, parseCredit(a))
	}
	for _, l := range xmlquery.Find(n, "labels/label") {
		rel.Labels = append(rel.Labels, record.Label{
			ID:    l.SelectAttr("id"),
			Name:  l.SelectAttr("name"),
			CatNo: l.SelectAttr("catno"),
		})
	}
	for _, f := range xmlquery.Find(n, "formats/format") {
		rel.Formats = append(rel.Formats, record.Format{
			Name:         f.SelectAttr("name"),
			Qty:          f.SelectAttr("qty"),
			Text:         f.SelectAttr("text"),
			Descriptions: texts(f, "descriptions/description"),
		})
	}
	for _, t := range xmlquery.Find(n, "tracklist/track") {
		rel.Tracklist = append(rel.Tracklist, record.Track{
			Position: childText(t, "position"),
			Title:    childText(t, "title"),
			Duration: childText(t, "duration"),
		})
	}
	for _, v := range xmlquery.Find(n, "videos/video") {
		rel.Videos = append(rel.Videos, record.Video{
			Src:         v.SelectAttr("src"),
			Duration:    v.SelectAttr("duration"),
			Title:       childText(v, "title"),
			Description: childText(v, "description"),
		})
	}
	for _, c := range xmlquery.Find(n, "companies/company") {
		rel.Companies = append(rel.Companies, record.Company{
			ID:             childText(c, "id"),
			Name:           childText(c, "name"),
			CatNo:          childText(c, "catno"),
			EntityType:     childText(c, "entity_type"),
			EntityTypeName: childText(c, "entity_type_name"),
		})
	}
	for _, img := range xmlquery.Find(n, "images/image") {
		rel.Images = append(rel.Images, record.Image{
			Type:   img.SelectAttr("type"),
			URI:    img.SelectAttr("uri"),
			Width:  img.SelectAttr("width"),
			Height: img.SelectAttr("height"),
		})
	}
	return rel
}

func parseCredit(n *xmlquery.Node) record.Credit {
	return record.Credit{
		ID:   childText(n, "id"),
		Name: childText(n, "name"),
		Anv:  childText(n, "anv"),
		Join: childText(n, "join"),
		Role: childText(n, "role"),
	}
}

func childText(n *xmlquery.Node, name string) string {
	if c := n.SelectElement(name); c != nil {
		return strings.TrimSpace(c.InnerText())
	}
	return ""
}

func texts(n *xmlquery.Node, expr string) []string {
	var out []string
	for _, c := range xmlquery.Find(n, expr) {
		if s := strings.TrimSpace(c.InnerText()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

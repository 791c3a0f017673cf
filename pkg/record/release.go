package record

// Release is one <release> element of the monthly data dump
type Release struct {
	ID           string    `json:"id"`
	Status       string    `json:"status,omitempty"`
	Title        string    `json:"title,omitempty"`
	Artists      []Credit  `json:"artists,omitempty"`
	ExtraArtists []Credit  `json:"extraartists,omitempty"`
	Labels       []Label   `json:"labels,omitempty"`
	Formats      []Format  `json:"formats,omitempty"`
	Genres       []string  `json:"genres,omitempty"`
	Styles       []string  `json:"styles,omitempty"`
	Country      string    `json:"country,omitempty"`
	Released     string    `json:"released,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	DataQuality  string    `json:"data_quality,omitempty"`
	MasterID     string    `json:"master_id,omitempty"`
	Tracklist    []Track   `json:"tracklist,omitempty"`
	Videos       []Video   `json:"videos,omitempty"`
	Companies    []Company `json:"companies,omitempty"`
	Images       []Image   `json:"images,omitempty"`
}

func (r *Release) Key() string  { return r.ID }
func (r *Release) Kind() string { return KindRelease }

type Credit struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Anv  string `json:"anv,omitempty"`
	Join string `json:"join,omitempty"`
	Role string `json:"role,omitempty"`
}

type Label struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	CatNo string `json:"catno,omitempty"`
}

type Format struct {
	Name         string   `json:"name"`
	Qty          string   `json:"qty,omitempty"`
	Text         string   `json:"text,omitempty"`
	Descriptions []string `json:"descriptions,omitempty"`
}

type Track struct {
	Position string `json:"position,omitempty"`
	Title    string `json:"title"`
	Duration string `json:"duration,omitempty"`
}

type Video struct {
	Src         string `json:"src"`
	Duration    string `json:"duration,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type Company struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	CatNo          string `json:"catno,omitempty"`
	EntityType     string `json:"entity_type,omitempty"`
	EntityTypeName string `json:"entity_type_name,omitempty"`
}

type Image struct {
	Type   string `json:"type,omitempty"`
	URI    string `json:"uri,omitempty"`
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
}

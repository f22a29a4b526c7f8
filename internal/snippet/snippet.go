package snippet

// SourceType classifies what the clipboard held when a snippet was captured.
type SourceType string

const (
	SourceText  SourceType = "text"
	SourceWeb   SourceType = "web"
	SourceImage SourceType = "image"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceText, SourceWeb, SourceImage:
		return true
	}
	return false
}

// Status is the enrichment lifecycle of a snippet.
// Transitions only pending -> processing -> {done, error}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusError:
		return true
	}
	return false
}

// Snippet is one captured clipboard observation and its derived annotations.
type Snippet struct {
	// ID is a ULID assigned by the store on insert
	ID string `json:"id"`

	// NoteID groups snippets by provenance
	NoteID string `json:"note_id"`

	// ContentText is plain text (raw at capture, extracted or OCR'd after enrichment)
	ContentText string `json:"content_text"`

	// ContentHTML is the raw clipboard HTML, if any
	ContentHTML string `json:"content_html,omitempty"`

	// ContentMarkdown is derived by enrichment
	ContentMarkdown string `json:"content_markdown"`

	SourceApp   string     `json:"source_app"`
	SourceURL   string     `json:"source_url,omitempty"`
	SourceTitle string     `json:"source_title,omitempty"`
	SourceType  SourceType `json:"source_type"`

	// Derived fields, empty until enrichment completes
	Summary    string `json:"summary"`
	Keywords   string `json:"keywords"`
	Topics     string `json:"topics"`
	CitationMD string `json:"citation_md"`

	Status Status   `json:"ai_status"`
	Tags   []string `json:"tags,omitempty"`

	// CreatedAt is the Unix timestamp of the clipboard observation
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is the Unix timestamp of the last write
	UpdatedAt int64 `json:"updated_at"`

	// Assets is populated by GetSnippet and written with the snippet on insert
	Assets []Asset `json:"assets,omitempty"`
}

// Asset is a binary attachment (currently images) owned by a snippet.
type Asset struct {
	ID          string `json:"id"`
	SnippetID   string `json:"snippet_id"`
	FilePath    string `json:"file_path"`
	ContentHash string `json:"content_hash"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`

	// OCRText is set at most once by the pipeline
	OCRText   string `json:"ocr_text,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Note groups snippets captured from the same source.
type Note struct {
	ID           string `json:"id"`
	NoteKey      string `json:"note_key"`
	Title        string `json:"title"`
	SourceURL    string `json:"source_url,omitempty"`
	SourceApp    string `json:"source_app,omitempty"`
	SnippetCount int    `json:"snippet_count"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Patch is a partial snippet update. Nil fields are left untouched.
type Patch struct {
	ContentText     *string
	ContentMarkdown *string
	Summary         *string
	Keywords        *string
	Topics          *string
	CitationMD      *string
	Status          *Status
	Tags            *[]string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.ContentText == nil && p.ContentMarkdown == nil && p.Summary == nil &&
		p.Keywords == nil && p.Topics == nil && p.CitationMD == nil &&
		p.Status == nil && p.Tags == nil
}

// StatusPatch is shorthand for a patch that only moves the lifecycle.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// AssetPatch is a partial asset update.
type AssetPatch struct {
	OCRText *string
}

// Summary is the list view of a snippet: everything except raw HTML, markdown and assets.
type Summary struct {
	ID          string     `json:"id"`
	NoteID      string     `json:"note_id"`
	SourceApp   string     `json:"source_app"`
	SourceURL   string     `json:"source_url,omitempty"`
	SourceTitle string     `json:"source_title,omitempty"`
	SourceType  SourceType `json:"source_type"`
	Summary     string     `json:"summary"`
	Keywords    string     `json:"keywords"`
	Topics      string     `json:"topics"`
	Status      Status     `json:"ai_status"`
	Preview     string     `json:"preview"`
	AssetCount  int        `json:"asset_count"`
	CreatedAt   int64      `json:"created_at"`
	UpdatedAt   int64      `json:"updated_at"`
}

// ToSummary converts a Snippet to a Summary.
func (s *Snippet) ToSummary() Summary {
	return Summary{
		ID:          s.ID,
		NoteID:      s.NoteID,
		SourceApp:   s.SourceApp,
		SourceURL:   s.SourceURL,
		SourceTitle: s.SourceTitle,
		SourceType:  s.SourceType,
		Summary:     s.Summary,
		Keywords:    s.Keywords,
		Topics:      s.Topics,
		Status:      s.Status,
		Preview:     Preview(s.ContentText, PreviewChars),
		AssetCount:  len(s.Assets),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// DisplayTitle returns the best human label for the snippet's source.
func (s *Snippet) DisplayTitle() string {
	switch {
	case s.SourceTitle != "":
		return s.SourceTitle
	case s.SourceApp != "":
		return s.SourceApp
	default:
		return "Unknown Source"
	}
}

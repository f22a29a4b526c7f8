package snippet

// ExportRecord represents a snippet record in JSONL export format.
type ExportRecord struct {
	// Header detection field - true only for header line
	VaultExport bool `json:"_clipvault_export,omitempty"`

	// Header fields (only present in header line)
	SchemaVersion string `json:"schema_version,omitempty"`
	ExportedAt    int64  `json:"exported_at,omitempty"`

	ID              string     `json:"id"`
	NoteID          string     `json:"note_id"`
	ContentText     string     `json:"content_text"`
	ContentHTML     string     `json:"content_html,omitempty"`
	ContentMarkdown string     `json:"content_markdown"`
	SourceApp       string     `json:"source_app"`
	SourceURL       string     `json:"source_url,omitempty"`
	SourceTitle     string     `json:"source_title,omitempty"`
	SourceType      SourceType `json:"source_type"`
	Summary         string     `json:"summary"`
	Keywords        string     `json:"keywords"`
	Topics          string     `json:"topics"`
	CitationMD      string     `json:"citation_md"`
	Status          Status     `json:"ai_status"`
	Tags            []string   `json:"tags"`
	Assets          []Asset    `json:"assets,omitempty"`
	CreatedAt       int64      `json:"created_at"`
	UpdatedAt       int64      `json:"updated_at"`
}

// ToExportRecord converts a Snippet to an ExportRecord.
func ToExportRecord(s *Snippet) *ExportRecord {
	return &ExportRecord{
		ID:              s.ID,
		NoteID:          s.NoteID,
		ContentText:     s.ContentText,
		ContentHTML:     s.ContentHTML,
		ContentMarkdown: s.ContentMarkdown,
		SourceApp:       s.SourceApp,
		SourceURL:       s.SourceURL,
		SourceTitle:     s.SourceTitle,
		SourceType:      s.SourceType,
		Summary:         s.Summary,
		Keywords:        s.Keywords,
		Topics:          s.Topics,
		CitationMD:      s.CitationMD,
		Status:          s.Status,
		Tags:            s.Tags,
		Assets:          s.Assets,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// ToSnippet converts an imported record back to a Snippet. NoteID is dropped;
// the store regroups snippets by provenance on insert.
func (r *ExportRecord) ToSnippet() *Snippet {
	s := &Snippet{
		ID:              r.ID,
		ContentText:     r.ContentText,
		ContentHTML:     r.ContentHTML,
		ContentMarkdown: r.ContentMarkdown,
		SourceApp:       r.SourceApp,
		SourceURL:       r.SourceURL,
		SourceTitle:     r.SourceTitle,
		SourceType:      r.SourceType,
		Summary:         r.Summary,
		Keywords:        r.Keywords,
		Topics:          r.Topics,
		CitationMD:      r.CitationMD,
		Status:          r.Status,
		Tags:            r.Tags,
		CreatedAt:       r.CreatedAt,
	}
	for _, a := range r.Assets {
		a.SnippetID = r.ID
		s.Assets = append(s.Assets, a)
	}
	return s
}

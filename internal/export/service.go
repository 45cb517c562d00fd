package export

import (
	"context"
	"fmt"
	"html/template"

	"carelink/api/internal/editor"
)

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetNote(ctx context.Context, noteID string) (Note, error)
	GetNoteContent(ctx context.Context, noteID, version string) (string, error)
}

// Service provides note export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	note, err := s.store.GetNote(ctx, req.NoteID)
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}

	content, err := s.store.GetNoteContent(ctx, req.NoteID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	if editor.Deserialize(content) == nil {
		return nil, ErrContentUnavailable
	}

	data := TemplateData{
		Title:       note.Title,
		FamilyName:  note.FamilyName,
		ContentHTML: template.HTML(editor.ToHTML(content)),
		Author:      note.Author,
		UpdatedAt:   note.UpdatedAt,
	}

	html, err := RenderNoteHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(editor.ToMarkdown(content)),
			Filename: sanitizeFilename(note.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(note.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, note.Title)
	case FormatDOCX:
		return exportDOCX(html, note.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

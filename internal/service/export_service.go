package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sgescolar/sge-api/internal/models"
	appErrors "github.com/sgescolar/sge-api/pkg/errors"
	"github.com/sgescolar/sge-api/pkg/export"
)

// ExportFormat enumerates the supported export formats.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ExportFile is a rendered export ready to be streamed to the client.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
}

// ExportLink points at a stored export file. The token is the download
// credential and expires with the link.
type ExportLink struct {
	FileName  string    `json:"file_name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type studentLister interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

type gradeLister interface {
	List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, error)
}

type exportStore interface {
	Save(name string, data []byte) error
	Read(name string) ([]byte, error)
}

type linkSigner interface {
	Generate(fileName string) (string, time.Time, error)
	Parse(token string) (string, error)
}

// ExportService renders section rosters and grade reports as CSV or PDF,
// persists them and hands out signed download links.
type ExportService struct {
	students studentLister
	grades   gradeLister
	store    exportStore
	signer   linkSigner
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewExportService constructs ExportService.
func NewExportService(students studentLister, grades gradeLister, store exportStore, signer linkSigner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		students: students,
		grades:   grades,
		store:    store,
		signer:   signer,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// Roster exports the active students of a section and returns a signed
// download link for the stored file.
func (s *ExportService) Roster(ctx context.Context, section string, format ExportFormat) (*ExportLink, error) {
	if section == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section is required")
	}

	active := true
	students, _, err := s.students.List(ctx, models.StudentFilter{
		Section:  section,
		Active:   &active,
		PageSize: 100,
		SortBy:   "full_name",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	dataset := export.Dataset{
		Headers: []string{"Código", "Nome", "E-mail", "Responsável"},
	}
	for _, student := range students {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Código":      student.Code,
			"Nome":        student.FullName,
			"E-mail":      student.Email,
			"Responsável": student.GuardianName,
		})
	}

	title := fmt.Sprintf("Turma %s", section)
	base := fmt.Sprintf("turma-%s-%s-%s", section, time.Now().UTC().Format("2006-01-02"), uuid.NewString()[:8])
	file, err := s.render(dataset, title, base, format)
	if err != nil {
		return nil, err
	}
	return s.publish(file)
}

// GradeReport exports a student's grades, optionally filtered by term, and
// returns a signed download link for the stored file.
func (s *ExportService) GradeReport(ctx context.Context, studentID, term string, format ExportFormat) (*ExportLink, error) {
	if studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}

	grades, err := s.grades.List(ctx, models.GradeFilter{StudentID: studentID, Term: term})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}

	dataset := export.Dataset{
		Headers: []string{"Disciplina", "Bimestre", "Nota"},
	}
	for _, grade := range grades {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Disciplina": grade.SubjectName,
			"Bimestre":   grade.Term,
			"Nota":       strconv.FormatFloat(grade.Score, 'f', 1, 64),
		})
	}

	base := fmt.Sprintf("boletim-%s-%s", time.Now().UTC().Format("2006-01-02"), uuid.NewString()[:8])
	file, err := s.render(dataset, "Boletim", base, format)
	if err != nil {
		return nil, err
	}
	return s.publish(file)
}

// Download verifies a signed token and loads the export file it points at.
func (s *ExportService) Download(token string) (*ExportFile, error) {
	name, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link is invalid or expired")
	}
	content, err := s.store.Read(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export file")
	}
	contentType := "text/csv"
	if strings.HasSuffix(name, ".pdf") {
		contentType = "application/pdf"
	}
	return &ExportFile{FileName: name, ContentType: contentType, Content: content}, nil
}

func (s *ExportService) publish(file *ExportFile) (*ExportLink, error) {
	if err := s.store.Save(file.FileName, file.Content); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export file")
	}
	token, expiresAt, err := s.signer.Generate(file.FileName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &ExportLink{FileName: file.FileName, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *ExportService) render(dataset export.Dataset, title, base string, format ExportFormat) (*ExportFile, error) {
	switch format {
	case FormatCSV, "":
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportFile{FileName: base + ".csv", ContentType: "text/csv", Content: content}, nil
	case FormatPDF:
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportFile{FileName: base + ".pdf", ContentType: "application/pdf", Content: content}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

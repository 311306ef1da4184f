package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded      DocumentStatus = "uploaded"
	StatusTextExtracted DocumentStatus = "text_extracted"
	StatusClassified    DocumentStatus = "classified"
	StatusExtracted     DocumentStatus = "extracted"
	StatusError         DocumentStatus = "error"
)

// CanTransitionTo reports whether the document state machine allows moving
// from s to next. Retry (error -> uploaded) is additionally gated by the error
// code, see Document.Retryable.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case StatusUploaded:
		return next == StatusTextExtracted || next == StatusError
	case StatusTextExtracted:
		return next == StatusClassified || next == StatusError
	case StatusClassified:
		return next == StatusExtracted || next == StatusClassified || next == StatusError
	case StatusExtracted:
		return next == StatusExtracted || next == StatusClassified || next == StatusError
	case StatusError:
		return next == StatusUploaded || next == StatusClassified
	default:
		return false
	}
}

// Settled reports whether the document no longer blocks case status derivation.
func (s DocumentStatus) Settled() bool {
	return s == StatusExtracted || s == StatusError
}

type DocType string

const (
	DocTypeInvoice     DocType = "invoice"
	DocTypePackingList DocType = "packing_list"
	DocTypeCertificate DocType = "certificate"
	DocTypeTestReport  DocType = "test_report"
	DocTypeSDS         DocType = "sds"
	DocTypeBOM         DocType = "bom"
)

var AllDocTypes = []DocType{
	DocTypeInvoice,
	DocTypePackingList,
	DocTypeCertificate,
	DocTypeTestReport,
	DocTypeSDS,
	DocTypeBOM,
}

func ParseDocType(v string) (DocType, bool) {
	for _, t := range AllDocTypes {
		if string(t) == v {
			return t, true
		}
	}
	return "", false
}

type ClassificationMethod string

const (
	MethodHeuristic ClassificationMethod = "heuristic"
	MethodAI        ClassificationMethod = "ai"
	MethodManual    ClassificationMethod = "manual"
)

// ErrorCode is persisted on documents in the error state.
type ErrorCode string

const (
	ErrorUnsupportedFile    ErrorCode = "unsupported_file"
	ErrorEncryptedPDF       ErrorCode = "encrypted_pdf"
	ErrorUnreadable         ErrorCode = "unreadable_document"
	ErrorOCRFailed          ErrorCode = "ocr_failed"
	ErrorUnclassifiable     ErrorCode = "unclassifiable"
	ErrorServiceUnavailable ErrorCode = "service_unavailable"
	ErrorExtractionTimeout  ErrorCode = "extraction_timeout"
	ErrorExtractionFailed   ErrorCode = "extraction_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrorUnsupportedFile:    "The file type is not supported. Upload a PDF, image, spreadsheet or text file.",
	ErrorEncryptedPDF:       "The PDF is password protected. Upload an unprotected copy.",
	ErrorUnreadable:         "The file could not be read. It may be corrupt.",
	ErrorOCRFailed:          "No readable text could be recovered from the scanned pages.",
	ErrorUnclassifiable:     "The document type could not be determined. Set it manually.",
	ErrorServiceUnavailable: "The document service is temporarily unavailable. Retry later.",
	ErrorExtractionTimeout:  "Field extraction timed out. Retry later.",
	ErrorExtractionFailed:   "Field extraction failed on every page. Retry later.",
}

// Message returns the user-facing description of the code.
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Document processing failed."
}

// Retryable codes correspond to service failures; the rest are fatal input errors.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrorServiceUnavailable, ErrorExtractionTimeout, ErrorExtractionFailed:
		return true
	default:
		return false
	}
}

type Document struct {
	ID                       string               `json:"id"`
	CaseID                   string               `json:"case_id"`
	Filename                 string               `json:"filename"`
	MimeType                 string               `json:"mime_type"`
	SizeBytes                int64                `json:"size_bytes"`
	PageCount                int                  `json:"page_count"`
	ContentHash              string               `json:"content_hash"`
	DocType                  DocType              `json:"doc_type,omitempty"`
	ClassificationMethod     ClassificationMethod `json:"classification_method,omitempty"`
	ClassificationConfidence float64              `json:"classification_confidence,omitempty"`
	Status                   DocumentStatus       `json:"status"`
	ErrorCode                ErrorCode            `json:"error_code,omitempty"`
	ErrorMessage             string               `json:"error_message,omitempty"`
	CreatedAt                time.Time            `json:"created_at"`
	UpdatedAt                time.Time            `json:"updated_at"`
}

func (d *Document) Retryable() bool {
	return d.Status == StatusError && d.ErrorCode.Retryable()
}

type Classification struct {
	DocType    DocType              `json:"doc_type"`
	Method     ClassificationMethod `json:"method"`
	Confidence float64              `json:"confidence"`
}

type PageMethod string

const (
	PageMethodNative PageMethod = "native"
	PageMethodOCR    PageMethod = "ocr"
	PageMethodSheet  PageMethod = "sheet"
)

// PageText is the extracted text of one 1-based page.
type PageText struct {
	DocumentID string     `json:"document_id"`
	PageNumber int        `json:"page_number"`
	Text       string     `json:"text"`
	Method     PageMethod `json:"method"`
}

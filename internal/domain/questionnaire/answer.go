package questionnaire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// AnswerKind is the stored shape of an answer.
type AnswerKind string

const (
	KindText    AnswerKind = "text"
	KindNumber  AnswerKind = "number"
	KindBool    AnswerKind = "boolean"
	KindChoices AnswerKind = "choices"
	KindFile    AnswerKind = "file"
)

var (
	ErrWrongShape    = errors.New("answer does not match question type")
	ErrNotAnOption   = errors.New("answer is not one of the question's options")
	ErrOutOfScale    = errors.New("answer is outside the scale")
	ErrNilAnswer     = errors.New("answer value is required")
	ErrFileViaUpload = errors.New("file answers are set by uploading a file")
)

// UploadErrorPrefix starts the marker stored in place of a file that could
// not be uploaded.
const UploadErrorPrefix = "Error al subir: "

func UploadErrorMarker(fileName string) string {
	return UploadErrorPrefix + fileName
}

// FileRef is the answer to a file question. While staged only the metadata
// is set; after upload Path and URL are, or Error when every attempt failed.
type FileRef struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (f FileRef) Uploaded() bool { return f.Path != "" }
func (f FileRef) Failed() bool   { return f.Error != "" }

// Resolved is the value written into the submitted answer slot: the public
// URL, the storage path, or the upload error marker.
func (f FileRef) Resolved() string {
	switch {
	case f.Failed():
		return UploadErrorMarker(f.FileName)
	case f.URL != "":
		return f.URL
	default:
		return f.Path
	}
}

// Answer is a tagged union; only the field matching kind is meaningful.
type Answer struct {
	kind    AnswerKind
	text    string
	number  float64
	boolean bool
	choices []string
	file    *FileRef
}

func TextAnswer(s string) Answer    { return Answer{kind: KindText, text: s} }
func NumberAnswer(n float64) Answer { return Answer{kind: KindNumber, number: n} }
func BoolAnswer(b bool) Answer      { return Answer{kind: KindBool, boolean: b} }

func ChoicesAnswer(values []string) Answer {
	return Answer{kind: KindChoices, choices: append([]string(nil), values...)}
}
func FileAnswer(f FileRef) Answer { return Answer{kind: KindFile, file: &f} }

func (a Answer) Kind() AnswerKind { return a.kind }

func (a Answer) Text() (string, bool)      { return a.text, a.kind == KindText }
func (a Answer) Number() (float64, bool)   { return a.number, a.kind == KindNumber }
func (a Answer) Bool() (bool, bool)        { return a.boolean, a.kind == KindBool }
func (a Answer) Choices() ([]string, bool) { return append([]string(nil), a.choices...), a.kind == KindChoices }

func (a Answer) File() (FileRef, bool) {
	if a.kind != KindFile || a.file == nil {
		return FileRef{}, false
	}
	return *a.file, true
}

// IsEmpty reports whether the answer counts as missing for required checks.
// Numbers and booleans are never empty once set; false is an answer.
func (a Answer) IsEmpty() bool {
	switch a.kind {
	case KindText:
		return strings.TrimSpace(a.text) == ""
	case KindNumber, KindBool:
		return false
	case KindChoices:
		return len(a.choices) == 0
	case KindFile:
		return a.file == nil || a.file.FileName == ""
	}
	return true
}

// Value returns the plain Go value: string, float64, bool, []string or
// FileRef.
func (a Answer) Value() any {
	switch a.kind {
	case KindText:
		return a.text
	case KindNumber:
		return a.number
	case KindBool:
		return a.boolean
	case KindChoices:
		return append([]string(nil), a.choices...)
	case KindFile:
		if a.file == nil {
			return FileRef{}
		}
		return *a.file
	}
	return nil
}

// MarshalJSON writes the bare value. File answers are written as their
// resolved reference.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case KindFile:
		if a.file == nil {
			return []byte("null"), nil
		}
		return json.Marshal(a.file.Resolved())
	case "":
		return []byte("null"), nil
	}
	return json.Marshal(a.Value())
}

// DecodeAnswer rebuilds an answer from its stored kind and JSON value.
func DecodeAnswer(kind AnswerKind, raw []byte) (Answer, error) {
	switch kind {
	case KindText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Answer{}, fmt.Errorf("decode text answer: %w", err)
		}
		return TextAnswer(s), nil
	case KindNumber:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return Answer{}, fmt.Errorf("decode number answer: %w", err)
		}
		return NumberAnswer(n), nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Answer{}, fmt.Errorf("decode boolean answer: %w", err)
		}
		return BoolAnswer(b), nil
	case KindChoices:
		var vs []string
		if err := json.Unmarshal(raw, &vs); err != nil {
			return Answer{}, fmt.Errorf("decode choices answer: %w", err)
		}
		return ChoicesAnswer(vs), nil
	case KindFile:
		var f FileRef
		if err := json.Unmarshal(raw, &f); err != nil {
			return Answer{}, fmt.Errorf("decode file answer: %w", err)
		}
		return FileAnswer(f), nil
	}
	return Answer{}, fmt.Errorf("unknown answer kind %q", kind)
}

// StoredValue is the JSON persisted next to the kind. Unlike MarshalJSON it
// keeps the full FileRef.
func (a Answer) StoredValue() ([]byte, error) {
	if a.kind == KindFile && a.file != nil {
		return json.Marshal(a.file)
	}
	return json.Marshal(a)
}

// NewAnswer converts a JSON-decoded value into an answer for q, rejecting
// values whose shape does not fit the question type.
func NewAnswer(q *Question, raw any) (Answer, error) {
	if raw == nil {
		return Answer{}, ErrNilAnswer
	}
	kind, err := q.Type.AnswerKind()
	if err != nil {
		return Answer{}, err
	}

	switch kind {
	case KindText:
		s, ok := raw.(string)
		if !ok {
			return Answer{}, fmt.Errorf("%w: %s question expects a string", ErrWrongShape, q.Type)
		}
		if q.Type.HasChoices() && strings.TrimSpace(s) != "" {
			v, ok := q.matchChoice(strings.TrimSpace(s))
			if !ok {
				return Answer{}, fmt.Errorf("%w: %q", ErrNotAnOption, s)
			}
			s = v
		}
		return TextAnswer(s), nil

	case KindNumber:
		n, err := toNumber(raw)
		if err != nil {
			return Answer{}, fmt.Errorf("%w: %s question expects a number", ErrWrongShape, q.Type)
		}
		if q.Type == TypeScale {
			if (q.Options.Min != nil && n < *q.Options.Min) || (q.Options.Max != nil && n > *q.Options.Max) {
				return Answer{}, fmt.Errorf("%w: %v", ErrOutOfScale, n)
			}
		}
		return NumberAnswer(n), nil

	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return Answer{}, fmt.Errorf("%w: boolean question expects true or false", ErrWrongShape)
		}
		return BoolAnswer(b), nil

	case KindChoices:
		items, ok := toStrings(raw)
		if !ok {
			return Answer{}, fmt.Errorf("%w: %s question expects a list of strings", ErrWrongShape, q.Type)
		}
		seen := make(map[string]bool, len(items))
		values := make([]string, 0, len(items))
		for _, it := range items {
			v, ok := q.matchChoice(strings.TrimSpace(it))
			if !ok {
				return Answer{}, fmt.Errorf("%w: %q", ErrNotAnOption, it)
			}
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
		return ChoicesAnswer(values), nil

	case KindFile:
		return Answer{}, ErrFileViaUpload
	}
	return Answer{}, fmt.Errorf("unhandled answer kind %q", kind)
}

func toNumber(raw any) (float64, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)
		if err != nil {
			return 0, err
		}
		n = f
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return n, nil
}

func toStrings(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			s, ok := it.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// AnswerMap holds answers keyed by question id.
type AnswerMap map[uuid.UUID]Answer

// Answered reports whether id has a non-empty answer.
func (m AnswerMap) Answered(id uuid.UUID) bool {
	a, ok := m[id]
	return ok && !a.IsEmpty()
}

func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for k, v := range m {
		if v.file != nil {
			f := *v.file
			v.file = &f
		}
		v.choices = append([]string(nil), v.choices...)
		out[k] = v
	}
	return out
}

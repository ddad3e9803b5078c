package questionnaire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func choices(vals ...string) []Choice {
	out := make([]Choice, len(vals))
	for i, v := range vals {
		out[i] = Choice{Value: v, Label: v}
	}
	return out
}

func TestNewAnswer_ShapeMismatch(t *testing.T) {
	lo, hi := 1.0, 5.0
	tests := []struct {
		name string
		q    Question
		raw  any
		want error
	}{
		{"number for boolean", Question{Type: TypeBoolean}, 1.0, ErrWrongShape},
		{"string for boolean", Question{Type: TypeBoolean}, "true", ErrWrongShape},
		{"bool for text", Question{Type: TypeText}, true, ErrWrongShape},
		{"word for number", Question{Type: TypeNumber}, "abc", ErrWrongShape},
		{"string for checkbox", Question{Type: TypeCheckboxMultiple, Options: Options{Choices: choices("a")}}, "a", ErrWrongShape},
		{"unknown option", Question{Type: TypeRadio, Options: Options{Choices: choices("a", "b")}}, "c", ErrNotAnOption},
		{"out of scale", Question{Type: TypeScale, Options: Options{Min: &lo, Max: &hi}}, 6.0, ErrOutOfScale},
		{"file via answer", Question{Type: TypeFile}, "x.pdf", ErrFileViaUpload},
		{"nil", Question{Type: TypeText}, nil, ErrNilAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnswer(&tt.q, tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewAnswer() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewAnswer_Accepts(t *testing.T) {
	q := &Question{Type: TypeNumber}
	a, err := NewAnswer(q, "72,5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, ok := a.Number(); !ok || n != 72.5 {
		t.Errorf("expected 72.5, got %v", n)
	}

	b, err := NewAnswer(&Question{Type: TypeBoolean}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.IsEmpty() {
		t.Error("false is an answer, not empty")
	}
}

func TestNewAnswer_ChoiceNormalisedToValue(t *testing.T) {
	q := &Question{Type: TypeFrequency, Options: Options{Choices: []Choice{
		{Value: "Never", Label: "Nunca"},
		{Value: "Always", Label: "Siempre"},
	}}}
	a, err := NewAnswer(q, "nunca")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := a.Text(); v != "Never" {
		t.Errorf("expected canonical value Never, got %q", v)
	}
}

func TestNewAnswer_ChoicesDeduplicated(t *testing.T) {
	q := &Question{Type: TypeCheckboxMultiple, Options: Options{Choices: choices("Diabetes", "Hipertensión")}}
	a, err := NewAnswer(q, []any{"diabetes", "Diabetes", "hipertension"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vs, _ := a.Choices()
	if len(vs) != 2 || vs[0] != "Diabetes" || vs[1] != "Hipertensión" {
		t.Errorf("unexpected choices %v", vs)
	}
}

func TestAnswer_IsEmpty(t *testing.T) {
	tests := []struct {
		name string
		a    Answer
		want bool
	}{
		{"blank text", TextAnswer("   "), true},
		{"text", TextAnswer("x"), false},
		{"zero", NumberAnswer(0), false},
		{"no choices", ChoicesAnswer(nil), true},
		{"staged file", FileAnswer(FileRef{FileName: "a.pdf"}), false},
		{"empty file", FileAnswer(FileRef{}), true},
		{"zero value", Answer{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnswer_MarshalJSON(t *testing.T) {
	m := map[string]Answer{
		"t": TextAnswer("hola"),
		"n": NumberAnswer(3),
		"c": ChoicesAnswer([]string{"a"}),
		"f": FileAnswer(FileRef{FileName: "lab.pdf", URL: "http://s/lab.pdf"}),
		"e": FileAnswer(FileRef{FileName: "lab.pdf", Error: "timeout"}),
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["t"] != "hola" || got["n"] != 3.0 {
		t.Errorf("unexpected scalar output %v", got)
	}
	if got["f"] != "http://s/lab.pdf" {
		t.Errorf("expected file url, got %v", got["f"])
	}
	if got["e"] != "Error al subir: lab.pdf" {
		t.Errorf("expected marker, got %v", got["e"])
	}
}

func TestDecodeAnswer_FileKeepsMetadata(t *testing.T) {
	a := FileAnswer(FileRef{FileName: "lab.pdf", MimeType: "application/pdf", Size: 1200, Path: "p/lab.pdf"})
	raw, err := a.StoredValue()
	if err != nil {
		t.Fatalf("stored value: %v", err)
	}
	back, err := DecodeAnswer(KindFile, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f, ok := back.File()
	if !ok || f.MimeType != "application/pdf" || f.Size != 1200 || f.Path != "p/lab.pdf" {
		t.Errorf("metadata lost: %+v", f)
	}
	if _, err := DecodeAnswer("weird", raw); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestAnswerMap_Clone(t *testing.T) {
	id := uuid.New()
	m := AnswerMap{id: FileAnswer(FileRef{FileName: "a.pdf"})}
	c := m.Clone()
	c[id] = TextAnswer("x")
	if _, ok := m[id].File(); !ok {
		t.Error("clone mutation leaked into original")
	}
}

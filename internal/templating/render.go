package templating

import (
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/valyala/fasttemplate"
	"github.com/xeipuuv/gojsonschema"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// Render substitutes {{key}} placeholders with values from data. Keys may
// address nested maps with dots ({{signal.id}}). A placeholder without a
// value is a validation error.
func Render(tpl string, data map[string]any) (string, error) {
	if !strings.Contains(tpl, startTag) {
		return tpl, nil
	}

	return fasttemplate.ExecuteFuncStringWithErr(tpl, startTag, endTag, func(w io.Writer, tag string) (int, error) {
		key := strings.TrimSpace(tag)
		value, ok := lookup(data, key)
		if !ok {
			return 0, fmt.Errorf("%w: missing template value %q", domain.ErrValidation, key)
		}
		return io.WriteString(w, stringify(value))
	})
}

// ValidateData checks data against a JSON Schema document. An empty schema
// accepts anything.
func ValidateData(schema []byte, data map[string]any) error {
	if len(strings.TrimSpace(string(schema))) == 0 {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return fmt.Errorf("%w: invalid template schema: %v", domain.ErrConfiguration, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("%w: template data: %s", domain.ErrValidation, strings.Join(problems, "; "))
}

// CompileSchema reports whether schema is a loadable JSON Schema.
func CompileSchema(schema []byte) error {
	if len(strings.TrimSpace(string(schema))) == 0 {
		return nil
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema)); err != nil {
		return fmt.Errorf("%w: invalid data schema: %v", domain.ErrValidation, err)
	}
	return nil
}

func lookup(data map[string]any, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	if value, ok := data[key]; ok {
		return value, true
	}

	var current any = data
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

package chrome

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
)

// field is one control to fill.
type field struct {
	Selector string
	Value    string
}

// resolve joins path onto base after substituting placeholders. Values are
// path-escaped.
func resolve(base *url.URL, path string, placeholders map[string]string) string {
	for k, v := range placeholders {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	ref, err := url.Parse(path)
	if err != nil {
		return base.String() + path
	}
	return base.ResolveReference(ref).String()
}

// parseBaseURL accepts only absolute http(s) URLs.
func parseBaseURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.NewValidationError("base url is required").WithField("driver.base_url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewValidationError("invalid base url").WithField("driver.base_url").WithCause(err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewValidationError("base url must be an absolute http(s) URL").
			WithField("driver.base_url").WithValue(raw)
	}
	return u, nil
}

// fieldName names the control for key. Bulk forms repeat every control once
// per row and address it as key[row].
func fieldName(key string, row, rows int) string {
	if rows <= 1 {
		return key
	}
	return key + "[" + strconv.Itoa(row) + "]"
}

// fieldsOf turns payloads into controls to fill, in row order and sorted by
// key within a row. Each payload must be a JSON object; nested values are
// entered as their JSON text.
func fieldsOf(selectorFormat string, payloads []driver.Payload) ([]field, error) {
	var fields []field
	for row, p := range payloads {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(p, &obj); err != nil {
			return nil, errors.NewValidationError("payload must be a JSON object").
				WithField(fmt.Sprintf("payloads[%d]", row)).WithCause(err)
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fields = append(fields, field{
				Selector: fmt.Sprintf(selectorFormat, fieldName(k, row, len(payloads))),
				Value:    scalar(obj[k]),
			})
		}
	}
	return fields, nil
}

// scalar renders a JSON value as the text a user would type.
func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Scripts evaluated in the page. Selectors are inserted with jsString.
func existsJS(sel string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(sel))
}

func textsJS(sel string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(e => e.textContent.trim()).filter(t => t !== "")`, jsString(sel))
}

func recordIDJS(sel string) string {
	return fmt.Sprintf(`(() => { const e = document.querySelector(%s); return e ? (e.dataset.recordId || e.textContent.trim()) : ""; })()`, jsString(sel))
}

const readyJS = `document.readyState === "complete"`

func fillJS(sel, value string) string {
	return fmt.Sprintf(`(() => {
	const e = document.querySelector(%s);
	if (!e) return false;
	e.value = %s;
	e.dispatchEvent(new Event("input", { bubbles: true }));
	e.dispatchEvent(new Event("change", { bubbles: true }));
	return true;
})()`, jsString(sel), jsString(value))
}

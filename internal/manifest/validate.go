package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Result is the outcome of validating a raw manifest.
type Result struct {
	Cargo  *Cargo
	Errors []string

	// Entries removed by the author and keyword filters. These are not errors.
	DroppedAuthors  int
	DroppedKeywords int
}

// Valid reports whether no validation errors were found.
func (r *Result) Valid() bool {
	return len(r.Errors) == 0
}

// Validate normalizes raw into a Cargo and collects human readable errors.
// It never fails: the returned record is always fully populated.
func Validate(raw any, disallowReserved bool) (*Cargo, []string) {
	r := Check(raw, disallowReserved)
	return r.Cargo, r.Errors
}

// Parse decodes a JSON manifest and validates it.
func Parse(data []byte, disallowReserved bool) *Result {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return &Result{
			Cargo:  Default(),
			Errors: []string{fmt.Sprintf("manifest is not valid json: %v", err)},
		}
	}
	return Check(raw, disallowReserved)
}

// Check is Validate with filter statistics.
func Check(raw any, disallowReserved bool) *Result {
	res := &Result{Cargo: Default()}
	pkg := res.Cargo

	c, ok := raw.(map[string]any)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("expected manifest to be type \"object\" got %q", typeOf(raw, raw != nil)))
		return res
	}

	if id, ok := stringField(c, "uuid", &res.Errors); ok {
		if err := checkUUID(id, disallowReserved); err != "" {
			res.Errors = append(res.Errors, err)
		} else if id != "" {
			pkg.UUID = id
		}
	}

	crate, present := c["crateVersion"]
	if cv, isString := crate.(string); isString && CrateVersions[cv] {
		pkg.CrateVersion = cv
	} else {
		res.Errors = append(res.Errors, fmt.Sprintf("crate version is invalid, got %q, valid=%s", display(crate, present), crateVersionList()))
	}

	if name, ok := stringField(c, "name", &res.Errors); ok {
		if disallowReserved && IsReservedName(name) {
			res.Errors = append(res.Errors, fmt.Sprintf("name cannot be reserved names: %s", reservedNameList()))
		} else if name != "" {
			pkg.Name = name
		}
	}

	if v, ok := stringField(c, "version", &res.Errors); ok {
		if !ValidVersion(v) {
			res.Errors = append(res.Errors, fmt.Sprintf("%q is not a valid version", v))
		} else {
			pkg.Version = v
		}
	}

	// entry is optional; only a present non-string value is an error.
	if _, present := c["entry"]; present {
		if entry, ok := stringField(c, "entry", &res.Errors); ok {
			pkg.Entry = entry
		}
	}

	rawFiles, hasFiles := c["files"]
	files, fileErr := filterFiles(rawFiles, hasFiles)
	if fileErr != "" {
		res.Errors = append(res.Errors, fileErr)
	}
	pkg.Files = files

	pkg.Authors, res.DroppedAuthors = filterAuthors(c["authors"])
	pkg.Keywords, res.DroppedKeywords = filterKeywords(c["keywords"])

	pkg.Description = orNull(c["description"])
	pkg.CrateLogoURL = orNull(c["crateLogoUrl"])
	pkg.License = orNull(c["license"])
	pkg.HomepageURL = orNull(c["homepageUrl"])
	if repo, ok := c["repo"].(map[string]any); ok {
		pkg.Repo.Type = orNull(repo["type"])
		pkg.Repo.URL = orNull(repo["url"])
	}

	return res
}

// checkUUID applies the uuid rules in order and returns the first failure.
func checkUUID(id string, disallowReserved bool) string {
	switch {
	case len(id) < UUIDLength:
		return fmt.Sprintf("uuid should be %d characters got %d characters", UUIDLength, len(id))
	case disallowReserved && IsReservedID(id):
		return fmt.Sprintf("uuid can not be one of reserved ids: %s", reservedIDList())
	case !urlSafe(id):
		return "uuid should only contain url safe characters"
	}
	return ""
}

// urlSafe reports whether s survives a decode/encode round trip unchanged.
func urlSafe(s string) bool {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return false
	}
	return encodeComponent(decoded) == s
}

// encodeComponent escapes everything except the URI component unreserved set.
func encodeComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if isUnreserved(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0f])
	}
	return b.String()
}

func isUnreserved(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", ch) >= 0
}

// filterFiles accepts the files list only if every entry is well formed.
// The scan stops at the first malformed entry and the list is discarded.
func filterFiles(raw any, present bool) ([]File, string) {
	list, ok := raw.([]any)
	if !ok {
		return []File{}, fmt.Sprintf("files should be an array, got %q", typeOf(raw, present))
	}

	files := make([]File, 0, len(list))
	for i, item := range list {
		entry, _ := item.(map[string]any)
		name, nameOK := entry["name"].(string)
		size, sizeOK := number(entry["bytes"])
		if !nameOK || !sizeOK {
			return []File{}, fmt.Sprintf("file %d is not a valid file format", i)
		}
		files = append(files, File{Name: name, Bytes: size})
	}
	return files, ""
}

// filterAuthors keeps authors whose name is a string.
func filterAuthors(raw any) ([]Author, int) {
	list, _ := raw.([]any)
	authors := make([]Author, 0, len(list))
	dropped := 0
	for _, item := range list {
		entry, _ := item.(map[string]any)
		name, ok := entry["name"].(string)
		if !ok {
			dropped++
			continue
		}
		authors = append(authors, Author{
			Name:  name,
			Email: orNull(entry["email"]),
			URL:   orNull(entry["url"]),
		})
	}
	return authors, dropped
}

// filterKeywords keeps string keywords.
func filterKeywords(raw any) ([]string, int) {
	list, _ := raw.([]any)
	keywords := make([]string, 0, len(list))
	dropped := 0
	for _, item := range list {
		if kw, ok := item.(string); ok {
			keywords = append(keywords, kw)
			continue
		}
		dropped++
	}
	return keywords, dropped
}

// ValidVersion reports whether v has three integer components before any
// pre-release suffix.
func ValidVersion(v string) bool {
	_, _, ok := SplitVersion(v)
	return ok
}

// SplitVersion returns the numeric components and pre-release suffix of v.
func SplitVersion(v string) ([3]int, string, bool) {
	var parts [3]int
	if v == "" {
		return parts, "", false
	}

	core, pre, _ := strings.Cut(v, "-")
	fields := strings.Split(core, ".")
	if len(fields) != 3 {
		return parts, "", false
	}
	for i, f := range fields {
		if f == "" || strings.TrimLeft(f, "0123456789") != "" {
			return parts, "", false
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return parts, "", false
		}
		parts[i] = n
	}
	return parts, pre, true
}

func stringField(c map[string]any, key string, errs *[]string) (string, bool) {
	v, present := c[key]
	s, ok := v.(string)
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s should be a string, got %q", key, typeOf(v, present)))
	}
	return s, ok
}

func orNull(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return NullField
}

// number reads a file size. Only whole, non-negative values are sizes.
func number(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, i >= 0
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return wholeSize(f)
	case float64:
		return wholeSize(n)
	case int:
		return int64(n), n >= 0
	case int64:
		return n, n >= 0
	}
	return 0, false
}

func wholeSize(f float64) (int64, bool) {
	if f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// typeOf names the type of a decoded JSON value the way manifest authors
// see it.
func typeOf(v any, present bool) string {
	if !present {
		return "undefined"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	case []any:
		return "array"
	}
	return "object"
}

func display(v any, present bool) string {
	if !present {
		return "undefined"
	}
	return fmt.Sprint(v)
}

// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/identity/internal/shared"
)

const maxBodyBytes = 1 << 20

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type        string            `json:"type,omitempty"`
	Title       string            `json:"title"`
	Status      int               `json:"status"`
	Detail      string            `json:"detail,omitempty"`
	Errors      map[string]string `json:"errors,omitempty"`
	LockedUntil *time.Time        `json:"lockedUntil,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, p ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(target)
}

// Decode reads a JSON body, or a form body when the request is not JSON.
// Form values bind to string and bool fields through their `form` tag.
func Decode(r *http.Request, target any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := DecodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
			return malformedBody()
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return malformedBody()
	}
	if err := bindForm(r.Form, target); err != nil {
		return malformedBody()
	}
	return nil
}

func malformedBody() error {
	verr := shared.NewValidationError()
	verr.Add("body", "malformed request body")
	return verr
}

func bindForm(values url.Values, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return errors.New("httpx: form target must be a struct pointer")
	}
	v = v.Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("form")
		if name == "" || !values.Has(name) {
			continue
		}
		raw := values.Get(name)
		field := v.Field(i)
		switch field.Kind() {
		case reflect.String:
			field.SetString(raw)
		case reflect.Bool:
			// Checkboxes post "on"; hidden fallbacks post "false".
			if strings.EqualFold(raw, "on") {
				field.SetBool(true)
				continue
			}
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return err
			}
			field.SetBool(b)
		}
	}
	return nil
}

// IsLocalURL reports whether raw is a same-origin relative path that is safe
// to redirect to. Scheme-relative ("//host") and backslash tricks are rejected.
func IsLocalURL(raw string) bool {
	if raw == "" || raw[0] != '/' {
		return false
	}
	if len(raw) > 1 && (raw[1] == '/' || raw[1] == '\\') {
		return false
	}
	for _, r := range raw {
		if r == '\\' || r < 0x20 || r == 0x7f {
			return false
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == "" && u.User == nil
}

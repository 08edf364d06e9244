// Package roster holds enrolled identities and keeps a read-mostly cache of
// them in sync with the store.
package roster

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
)

var (
	ErrUnknownCategory = errors.New("unknown category")
	ErrMissingField    = errors.New("required field is missing")
)

// Category is the role of an enrolled person.
type Category string

const (
	Student       Category = "student"
	Faculty       Category = "faculty"
	Administrator Category = "administrator"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{Student, Faculty, Administrator}
}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case Student:
		return Student, nil
	case Faculty:
		return Faculty, nil
	case Administrator:
		return Administrator, nil
	}
	return "", fmt.Errorf("%w %q (expected student, faculty or administrator)", ErrUnknownCategory, s)
}

// Collection returns the identity collection of the category.
func (c Category) Collection() string {
	switch c {
	case Faculty:
		return "faculties"
	case Administrator:
		return "administrators"
	default:
		return "students"
	}
}

// AttendanceCollection returns the per-day attendance collection of the category.
func (c Category) AttendanceCollection() string {
	return attendance.Collection(string(c))
}

// SecondaryLabel is the column header of the secondary id.
func (c Category) SecondaryLabel() string {
	switch c {
	case Faculty:
		return "Faculty ID"
	case Administrator:
		return "Role"
	default:
		return "Student ID"
	}
}

// Identity is one enrolled person.
type Identity struct {
	ID             string               `json:"id"`
	Category       Category             `json:"category"`
	DisplayName    string               `json:"displayName"`
	SecondaryID    string               `json:"secondaryId"`
	Email          string               `json:"email,omitempty"`
	Phone          string               `json:"phone,omitempty"`
	Branch         string               `json:"branch,omitempty"`
	ImageReference string               `json:"imageReference,omitempty"`
	Descriptor     facematch.Descriptor `json:"-"`
}

// HasDescriptor reports whether the identity takes part in matching.
func (i Identity) HasDescriptor() bool {
	return len(i.Descriptor) > 0
}

// IdentityFromDocument decodes a stored identity. Stored documents use the
// category-specific field names (studentId, facultyEmail, role, ...).
func IdentityFromDocument(c Category, doc database.Document) (Identity, error) {
	d := doc.Data
	id := Identity{
		ID:             doc.Key,
		Category:       c,
		DisplayName:    str(d, "displayName", "name"),
		ImageReference: str(d, "imageReference", "imageUrl"),
		Email:          str(d, "email", "studentEmail", "facultyEmail"),
	}

	switch c {
	case Student:
		id.SecondaryID = str(d, "secondaryId", "studentId")
		id.Phone = str(d, "phone", "studentPhone")
		id.Branch = str(d, "branch", "studentBranch")
	case Faculty:
		id.SecondaryID = str(d, "secondaryId", "facultyId")
		id.Phone = str(d, "phone", "facultyPhone")
	case Administrator:
		id.SecondaryID = str(d, "secondaryId", "role")
	}

	desc, err := descriptor(d["descriptor"])
	if err != nil {
		return id, fmt.Errorf("identity %s: %w", doc.Key, err)
	}
	id.Descriptor = desc
	return id, nil
}

// Document encodes the identity with the stored field names of its category.
func (i Identity) Document() map[string]any {
	d := map[string]any{
		"name":     i.DisplayName,
		"imageUrl": i.ImageReference,
	}
	if i.HasDescriptor() {
		vals := make([]any, len(i.Descriptor))
		for k, v := range i.Descriptor {
			vals[k] = float64(v)
		}
		d["descriptor"] = vals
	}

	switch i.Category {
	case Student:
		d["studentId"] = i.SecondaryID
		d["studentBranch"] = i.Branch
		d["studentEmail"] = i.Email
		d["studentPhone"] = i.Phone
	case Faculty:
		d["facultyId"] = i.SecondaryID
		d["facultyEmail"] = i.Email
		d["facultyPhone"] = i.Phone
	case Administrator:
		d["role"] = i.SecondaryID
		d["email"] = i.Email
	}
	return d
}

// Validate checks the fields required at enrollment.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.DisplayName) == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	if strings.TrimSpace(i.SecondaryID) == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.ToLower(i.Category.SecondaryLabel()))
	}
	return nil
}

func str(d map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := d[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func descriptor(v any) (facematch.Descriptor, error) {
	switch vals := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make(facematch.Descriptor, len(vals))
		for k, x := range vals {
			f, ok := x.(float64)
			if !ok {
				return nil, fmt.Errorf("descriptor component %d is %T", k, x)
			}
			out[k] = float32(f)
		}
		return out, nil
	case []float64:
		out := make(facematch.Descriptor, len(vals))
		for k, f := range vals {
			out[k] = float32(f)
		}
		return out, nil
	case []float32:
		return facematch.Descriptor(vals), nil
	default:
		return nil, fmt.Errorf("unsupported descriptor type %T", v)
	}
}

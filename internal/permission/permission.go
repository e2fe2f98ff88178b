// Package permission holds the vocabulary shared by the router manifest, the
// authorization guard and the catalog reconciler: requirement codes of the form
// "<resource>:<action>" and the static descriptor of a protected operation.
package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidCode = errors.New("invalid permission code")

const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
)

// Requirement is a single {resource, action} pair an operation demands.
type Requirement struct {
	Resource string
	Action   string
}

func Require(resource, action string) Requirement {
	return Requirement{Resource: strings.TrimSpace(resource), Action: strings.TrimSpace(action)}
}

func CanCreate(resource string) Requirement { return Require(resource, ActionCreate) }
func CanRead(resource string) Requirement   { return Require(resource, ActionRead) }
func CanUpdate(resource string) Requirement { return Require(resource, ActionUpdate) }
func CanDelete(resource string) Requirement { return Require(resource, ActionDelete) }

// Code returns the canonical "<resource>:<action>" form.
func (r Requirement) Code() string {
	return r.Resource + ":" + r.Action
}

func (r Requirement) Valid() bool {
	return r.Resource != "" && r.Action != "" &&
		!strings.Contains(r.Resource, ":") && !strings.Contains(r.Action, ":")
}

// ParseCode splits a "<resource>:<action>" code into a Requirement.
func ParseCode(code string) (Requirement, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(code), ":")
	req := Require(resource, action)
	if !ok || !req.Valid() {
		return Requirement{}, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return req, nil
}

func MustParseCode(code string) Requirement {
	req, err := ParseCode(code)
	if err != nil {
		panic(err)
	}
	return req
}

// Codes normalizes requirements into a sorted, de-duplicated code list.
func Codes(reqs []Requirement) []string {
	if len(reqs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(reqs))
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		code := r.Code()
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Missing returns the required codes absent from held, in required order.
func Missing(required, held []string) []string {
	set := make(map[string]struct{}, len(held))
	for _, h := range held {
		set[h] = struct{}{}
	}
	var missing []string
	for _, code := range required {
		if _, ok := set[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}

// Normalize returns a sorted copy of codes without blanks or duplicates.
func Normalize(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two code sets hold the same members.
func Equal(a, b []string) bool {
	na, nb := Normalize(a), Normalize(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// DisplayName renders a code pair as "Users: Read".
func DisplayName(resource, action string) string {
	return titleWords(resource) + ": " + titleWords(action)
}

func titleWords(s string) string {
	words := strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

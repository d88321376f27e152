// Package invalidation maps business mutations to the cache key patterns they
// make stale. It is pure: it never touches the store.
package invalidation

import (
	"net/http"
	"strconv"
	"strings"
)

// Operation is the kind of mutation applied to a resource.
type Operation string

// Mutation kinds.
const (
	OpNone   Operation = ""
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// OperationForMethod maps an HTTP method to the mutation it performs.
// Safe methods map to OpNone.
func OperationForMethod(method string) Operation {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return OpCreate
	case http.MethodPut, http.MethodPatch:
		return OpUpdate
	case http.MethodDelete:
		return OpDelete
	default:
		return OpNone
	}
}

// ListPattern covers every cached collection view of family.
func ListPattern(family string) string {
	return family + ":list:*"
}

// DetailPattern covers every cached view of one resource.
func DetailPattern(family, id string) string {
	return family + ":detail:" + id
}

// AffectedPatterns returns the key patterns invalidated by op on family/id.
// Every mutation purges the list views; update and delete also purge the detail
// view of id. Without an id, update and delete degrade to the list pattern.
func AffectedPatterns(family, id string, op Operation) []string {
	if family == "" {
		return nil
	}
	switch op {
	case OpCreate:
		return []string{ListPattern(family)}
	case OpUpdate, OpDelete:
		if id == "" {
			return []string{ListPattern(family)}
		}
		return []string{DetailPattern(family, id), ListPattern(family)}
	default:
		return nil
	}
}

// Resource identifies the family and optional id addressed by a request path.
type Resource struct {
	Family string
	ID     string
}

// Scope returns the cache key scope of the resource.
func (r Resource) Scope() string {
	if r.ID == "" {
		return r.Family + ":list"
	}
	return r.Family + ":detail:" + r.ID
}

// ParseResource derives the resource from a request path below apiPrefix.
// The last segment is the id when it is numeric, and the segment before it the
// family; otherwise the last segment is the family. Ids are normalized, so
// leading zeros are dropped:
//
//	/api/v1/posts          -> posts
//	/api/v1/posts/42       -> posts, 42
//	/api/v1/posts/042      -> posts, 42
//	/api/v1/posts/42/tags  -> tags
//
// Returns false when the path is outside apiPrefix or names no family.
func ParseResource(path, apiPrefix string) (Resource, bool) {
	prefix := strings.TrimRight(apiPrefix, "/")
	if prefix != "" {
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			return Resource{}, false
		}
		path = path[len(prefix):]
	}

	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return Resource{}, false
	}

	last := segments[len(segments)-1]
	if id, ok := canonicalID(last); ok {
		if len(segments) < 2 {
			return Resource{}, false
		}
		return Resource{Family: segments[len(segments)-2], ID: id}, true
	}
	return Resource{Family: last}, true
}

// canonicalID returns s in its canonical decimal form, so "042" and "42"
// address the same resource.
func canonicalID(s string) (string, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(n, 10), true
}

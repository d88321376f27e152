package invalidation

import (
	"net/http"
	"reflect"
	"testing"
)

func TestAffectedPatterns(t *testing.T) {
	tests := []struct {
		name   string
		family string
		id     string
		op     Operation
		want   []string
	}{
		{"create", "posts", "", OpCreate, []string{"posts:list:*"}},
		{"create ignores id", "posts", "42", OpCreate, []string{"posts:list:*"}},
		{"update", "posts", "42", OpUpdate, []string{"posts:detail:42", "posts:list:*"}},
		{"delete", "posts", "42", OpDelete, []string{"posts:detail:42", "posts:list:*"}},
		{"update without id", "posts", "", OpUpdate, []string{"posts:list:*"}},
		{"delete without id", "tags", "", OpDelete, []string{"tags:list:*"}},
		{"no operation", "posts", "42", OpNone, nil},
		{"no family", "", "42", OpDelete, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AffectedPatterns(tt.family, tt.id, tt.op)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("AffectedPatterns(%q, %q, %q) = %v, want %v", tt.family, tt.id, tt.op, got, tt.want)
			}
		})
	}
}

func TestAffectedPatterns_FamiliesNeverCollide(t *testing.T) {
	for _, op := range []Operation{OpCreate, OpUpdate, OpDelete} {
		for _, p := range AffectedPatterns("tags", "1", op) {
			for _, other := range AffectedPatterns("posts", "1", op) {
				if p == other {
					t.Errorf("op %s: tags and posts share pattern %q", op, p)
				}
			}
		}
	}
}

func TestOperationForMethod(t *testing.T) {
	tests := map[string]Operation{
		http.MethodGet:     OpNone,
		http.MethodHead:    OpNone,
		http.MethodOptions: OpNone,
		http.MethodPost:    OpCreate,
		http.MethodPut:     OpUpdate,
		http.MethodPatch:   OpUpdate,
		http.MethodDelete:  OpDelete,
		"delete":           OpDelete,
	}
	for method, want := range tests {
		if got := OperationForMethod(method); got != want {
			t.Errorf("OperationForMethod(%q) = %q, want %q", method, got, want)
		}
	}
}

func TestParseResource(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   Resource
		ok     bool
	}{
		{"/api/v1/posts", "/api/v1", Resource{Family: "posts"}, true},
		{"/api/v1/posts/", "/api/v1", Resource{Family: "posts"}, true},
		{"/api/v1/posts/42", "/api/v1", Resource{Family: "posts", ID: "42"}, true},
		{"/api/v1/posts/042", "/api/v1", Resource{Family: "posts", ID: "42"}, true},
		{"/api/v1/posts/0", "/api/v1", Resource{Family: "posts", ID: "0"}, true},
		{"/api/v1/posts/42/tags", "/api/v1", Resource{Family: "tags"}, true},
		{"/api/v1/tags/7", "/api/v1/", Resource{Family: "tags", ID: "7"}, true},
		{"/posts/1", "", Resource{Family: "posts", ID: "1"}, true},
		{"/api/v1", "/api/v1", Resource{}, false},
		{"/api/v1/42", "/api/v1", Resource{}, false},
		{"/api/v10/posts", "/api/v1", Resource{}, false},
		{"/health", "/api/v1", Resource{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := ParseResource(tt.path, tt.prefix)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseResource(%q, %q) = %+v, %v; want %+v, %v", tt.path, tt.prefix, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResource_Scope(t *testing.T) {
	if got := (Resource{Family: "posts"}).Scope(); got != "posts:list" {
		t.Errorf("list scope = %q", got)
	}
	if got := (Resource{Family: "posts", ID: "42"}).Scope(); got != "posts:detail:42" {
		t.Errorf("detail scope = %q", got)
	}

	// Every key in a resource's scope is covered by the patterns its mutations produce.
	r := Resource{Family: "posts", ID: "42"}
	patterns := AffectedPatterns(r.Family, r.ID, OpUpdate)
	if patterns[0] != r.Scope() {
		t.Errorf("detail pattern %q does not match scope %q", patterns[0], r.Scope())
	}
}

package paramstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Static is an in-process Getter used when running outside AWS. Values are
// keyed by full parameter name.
type Static map[string]string

func (s Static) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := s[strings.TrimSpace(name)]
	if !ok || v == "" {
		return "", fmt.Errorf("paramstore: parameter %q: %w", name, ErrNotFound)
	}
	return v, nil
}

// NewStatic builds a Static getter whose names are suffixes joined onto
// prefix. Entries in tokens are stored in the {"token": ...} JSON shape used
// for secrets in SSM. Empty values are left out so lookups fail with
// ErrNotFound.
func NewStatic(prefix string, values, tokens map[string]string) Static {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	out := Static{}
	for suffix, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out[prefix+"/"+strings.TrimLeft(suffix, "/")] = v
		}
	}
	for suffix, tok := range tokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			buf, _ := json.Marshal(struct {
				Token string `json:"token"`
			}{Token: tok})
			out[prefix+"/"+strings.TrimLeft(suffix, "/")] = string(buf)
		}
	}
	return out
}
